package app

import (
	"track-enricher/internal/common/logging"
	"track-enricher/internal/crypto"
	"track-enricher/internal/redis"
)

func (app *App) initializeRedis() error {
	if app.Config.RedisAddress == "" {
		app.Logger.Info("Redis: Not configured (tokens and exchange rates stay in process)")
		return nil
	}

	redisConfig := &redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDBNumber(),
		PoolSize: app.Config.RedisPool(),
	}

	redisClient, err := redis.NewClient(redisConfig)
	if err != nil {
		return err
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	return nil
}

func (app *App) initializeEncryption() error {
	encryptionKey := app.Config.TokenEncryptionKey
	if encryptionKey == "" {
		if app.RedisClient != nil {
			app.Logger.Warn("Shared tokens are stored unencrypted (no TOKEN_ENCRYPTION_KEY provided)")
		}
		return nil
	}

	encryptor, err := crypto.NewConfigEncryptor(encryptionKey)
	if err != nil {
		return err
	}

	app.Encryptor = encryptor
	app.Logger.Info("Token encryption enabled")
	return nil
}
