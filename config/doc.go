// Package config loads agent configuration.
//
// A Loader merges one or more file layers onto Defaults. Each layer may be
// JSON, YAML or TOML; the decoder is picked by file extension. Every layer is
// validated against an embedded JSON schema before it is merged, then
// AGENTSDK_* environment variables are applied and the result passes the
// semantic checks in Config.Validate.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/site.toml") // overrides base
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// # Regions
//
// Regions maps each region of device state to the KV bucket that backs it.
// A region without an explicit bucket uses bucket_prefix + region name:
//
//	regions:
//	  intf: {create: true, history: 5}
//	  bgp: {}            # bucket agentsdk_bgp, mounted as a stub when absent
//
// # Environment Overrides
//
//	AGENTSDK_AGENT_NAME, AGENTSDK_AGENT_INSTANCE_ID, AGENTSDK_AGENT_ENVIRONMENT
//	AGENTSDK_NATS_URLS (comma separated), AGENTSDK_NATS_USERNAME,
//	AGENTSDK_NATS_PASSWORD, AGENTSDK_NATS_TOKEN, AGENTSDK_METRICS_PORT
//
// # Thread Safety
//
// Config values are plain data. SafeConfig guards a Config shared between
// goroutines and hands out deep copies.
package config
