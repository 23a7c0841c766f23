package commands

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/credops/credops/internal/config"
	"github.com/credops/credops/internal/secretcodec"
	"github.com/credops/credops/internal/store"
)

// loadDefinition loads credops.yaml once per command invocation.
func loadDefinition(cfg *config.Config) (*config.Definition, error) {
	if cfg.Definition != nil {
		return cfg.Definition, nil
	}
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg.Definition, nil
}

// openDatabase connects to the system of record using the loaded definition.
func openDatabase(def *config.Definition) (*gorm.DB, error) {
	return store.Connect(store.Config{
		DSN:   def.Database.DSN,
		Debug: def.Database.Debug,
	})
}

// buildCodec derives the column codec from the guarded master key. The raw
// key bytes live only for the duration of cipher construction.
func buildCodec(def *config.Definition) (*secretcodec.Codec, error) {
	key, err := def.MasterKey()
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	var codec *secretcodec.Codec
	err = key.Use(func(raw []byte) error {
		var cerr error
		codec, cerr = secretcodec.New(raw)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build secret codec: %w", err)
	}
	return codec, nil
}
