package config

import (
	"time"

	"github.com/go-redis/redis"
)

// RedisConfig is the connection configuration of a redis server, sentinel group or cluster.
type RedisConfig struct {
	// A single address connects to one server; several form a cluster seed list, or a sentinel list
	// when MasterName is set.
	Addrs      []string
	MasterName string
	DB         int `validate:"gte=0,lte=16"`
	Password   string
	// Retries of a failed command before it is reported. Zero keeps the client's default.
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

func (rc RedisConfig) AsUniversalOptions() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:        rc.Addrs,
		MasterName:   rc.MasterName,
		DB:           rc.DB,
		Password:     rc.Password,
		MaxRetries:   rc.MaxRetries,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		PoolSize:     rc.PoolSize,
	}
}
