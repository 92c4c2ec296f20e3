// Package config loads and merges the application configuration
// files and turns them into a ready to use resolution context.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/kaptinlin/jsonschema"
	"github.com/spf13/viper"

	"github.com/scl-tools/rpmrh/pkg/service"
)

// Context is the process-wide resolution state: every configured
// service distributed into the prefix indexes, plus the alias tables.
// It is built once at startup and read-only afterward.
type Context struct {
	Services *service.IndexGroup
	Alias    service.AliasTable
	Cache    CacheConfig
}

// Unalias expands a logical group name.  See service.AliasTable.
func (c *Context) Unalias(kind, alias string, params map[string]string) (string, error) {
	return c.Alias.Unalias(kind, alias, params)
}

// Load reads the given configuration files in order, merging later
// files over earlier ones key by key, validates the result and
// instantiates every configured service through the type registry.
func Load(l hclog.Logger, registry *service.TypeRegistry, paths ...string) (*Context, error) {
	merged, err := mergeFiles(paths)
	if err != nil {
		return nil, err
	}
	if err := validate(merged.AllSettings()); err != nil {
		return nil, err
	}

	var cfg Config
	if err := merged.Unmarshal(&cfg); err != nil {
		return nil, ConfigurationError{Message: "invalid configuration", Detail: err.Error()}
	}
	return newContext(l, registry, cfg)
}

func mergeFiles(paths []string) (*viper.Viper, error) {
	v := viper.New()
	for i, path := range paths {
		v.SetConfigFile(path)
		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}
		if err != nil {
			return nil, ConfigurationError{
				Message: fmt.Sprintf("cannot read configuration file %s", path),
				Detail:  err.Error(),
			}
		}
	}
	return v, nil
}

func validate(settings map[string]any) error {
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile([]byte(schema))
	if err != nil {
		return fmt.Errorf("compiling configuration schema: %w", err)
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("serializing configuration for validation: %w", err)
	}

	result := compiled.ValidateJSON(raw)
	if !result.IsValid() {
		return ConfigurationError{
			Message: "invalid configuration",
			Detail:  fmt.Sprint(result.Errors),
		}
	}
	return nil
}

func newContext(l hclog.Logger, registry *service.TypeRegistry, cfg Config) (*Context, error) {
	group := service.NewIndexGroup(l)

	services := make([]service.Service, 0, len(cfg.Services))
	for _, registration := range cfg.Services {
		svc, err := registry.Construct(registration)
		if err != nil {
			return nil, ConfigurationError{Message: "cannot configure service", Detail: err.Error()}
		}
		services = append(services, svc)
	}
	group.Distribute(services...)

	alias := make(service.AliasTable, len(cfg.Alias))
	for kind, table := range cfg.Alias {
		alias[kind] = table
	}

	return &Context{
		Services: group,
		Alias:    alias,
		Cache:    cfg.Cache,
	}, nil
}
