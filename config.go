package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 服务配置，命令行参数优先于配置文件
type Config struct {
	IP         string `yaml:"ip"`
	Port       int    `yaml:"port"`
	LogPath    string `yaml:"logPath"`
	SchemaPath string `yaml:"schemaPath"`
	// Norepl 为true时initialize应答不宣告求值能力
	Norepl bool `yaml:"norepl"`
}

func DefaultConfig() *Config {
	return &Config{
		IP:      "127.0.0.1",
		Port:    8889,
		LogPath: "/var/luadebugger.log",
	}
}

// LoadConfig 从yaml文件加载配置，缺省值见DefaultConfig
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config fail: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config fail: %w", err)
	}
	return config, nil
}
