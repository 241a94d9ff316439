package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ankitmohanty2/Kagaz/internal/config"
	"github.com/Ankitmohanty2/Kagaz/internal/embedding"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
)

func TestNewEmbedderFollowsProvider(t *testing.T) {
	cfg := &config.Config{Embedding: config.EmbeddingConfig{Provider: "hash", Dimensions: 32}}

	e := newEmbedder(logger.Nop(), cfg)
	assert.IsType(t, &embedding.HashEmbedder{}, e)
	assert.Equal(t, 32, e.Dimensions())

	cfg.Embedding.Provider = "openai"
	cfg.Embedding.Endpoint = "http://localhost:1/v1"
	e = newEmbedder(logger.Nop(), cfg)
	assert.IsType(t, &embedding.OpenAIEmbedder{}, e)
	assert.Equal(t, 32, e.Dimensions())
}

func TestAppCloseRunsInReverseOrder(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	a := &app{log: logger.Nop()}
	a.closers = []func(context.Context) error{
		func(context.Context) error { order = append(order, "telemetry"); return nil },
		func(context.Context) error { order = append(order, "db"); return boom },
	}

	err := a.Close()

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"db", "telemetry"}, order)
	assert.NoError(t, a.Close())
}
