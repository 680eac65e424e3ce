/*
Package config loads stepgraph runtime configuration.

Configuration is layered: Default, then a YAML file, then environment
variables prefixed with STEPGRAPH. Nested keys join with underscores:

	engine:
	  max_steps: 50
	checkpoint:
	  backend: redis
	  redis_url: redis://localhost:6379/0

is overridden by

	STEPGRAPH_ENGINE_MAX_STEPS=80
	STEPGRAPH_CHECKPOINT_BACKEND=sqlite

Provider-specific model settings live under model.options and are read
through Options:

	temp := config.Options(cfg.Model.Options).Float("temperature", 0.2)
*/
package config
