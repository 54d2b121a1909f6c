package utils

import (
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
)

// CACHE_LIFESPAN is in hours, default 1.
func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil || lifespan <= 0 {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

func cacheKey[T any](id string) string {
	return GetTypeName[T]() + ":" + id
}

// StoreRedis caches obj under Type:$id. No-op when redis is not connected.
func StoreRedis[T any](obj *T, id string) error {
	return config.SetRedisObject(cacheKey[T](id), obj, GetCacheLifespan())
}

// RetrieveRedis returns nil when the key does not exist.
func RetrieveRedis[T any](id string) (*T, error) {
	var result T
	exists, err := config.GetRedisObject(cacheKey[T](id), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &result, nil
}

// StoreRedisList caches a list under TypeList:$suffix.
func StoreRedisList[T any](list []*T, suffix string) error {
	return config.SetRedisObject(GetTypeName[T]()+"List:"+suffix, list, GetCacheLifespan())
}

func RetrieveRedisList[T any](suffix string) ([]*T, error) {
	var result []*T
	exists, err := config.GetRedisObject(GetTypeName[T]()+"List:"+suffix, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

func RemoveRedisItem[T any](id string) error {
	return config.RemoveRedisKey(cacheKey[T](id))
}

func RemoveRedisList[T any](suffixes ...string) error {
	keys := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		keys = append(keys, GetTypeName[T]()+"List:"+s)
	}
	if len(keys) == 0 {
		return nil
	}
	return config.RemoveRedisKey(keys...)
}
