package lib

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

func GetRedisClient() *redis.Client {
	if redisClient != nil {
		return redisClient
	}
	redisHost := os.Getenv("REDIS_HOST")
	opt, err := redis.ParseURL(redisHost)
	if err != nil {
		log.Printf("[redis] Error parsing connection string: %s\n", err.Error())
		return nil
	}
	rdb := redis.NewClient(opt)
	redisClient = rdb
	return rdb
}

// CheckRedis pings the configured instance. Session staging and rate
// limiting both degrade without redis, so boot logs the outcome.
func CheckRedis(ctx context.Context) error {
	rdb := GetRedisClient()
	if rdb == nil {
		return errors.New("redis not configured")
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	return nil
}

// NewRedisClient Replace redis instance with custom client implementation
func NewRedisClient(c *redis.Client) *redis.Client {
	redisClient = c
	return redisClient
}
