// Package config loads datasync configuration.
//
// Service settings come from an optional YAML file read with viper, with
// every key overridable through DATASYNC_-prefixed environment variables
// (DATASYNC_BATCH_WORKERS, DATASYNC_DATABASE_DSN, ...). Data-source catalogs
// are plain YAML documents loaded with LoadYAML, which substitutes ${VAR}
// references so secrets can stay in the environment.
//
// # Usage
//
//	cfg, err := config.Load("datasync.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	var catalog datasource.Catalog
//	if err := config.LoadYAML("sources.yaml", &catalog); err != nil {
//		log.Fatal(err)
//	}
package config
