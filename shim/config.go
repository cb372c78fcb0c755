package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const configFilename = "config.json"

type root struct {
	// Path is the path to the rootfs
	Path string `json:"path"`
}

type process struct {
	// Args is the command to run
	Args []string `json:"args"`
	// Env is the environment variables to set
	Env []string `json:"env"`
}

type config struct {
	Root    root    `json:"root"`
	Process process `json:"process"`
}

type Config struct {
	Root       string
	Entrypoint string
	Path       []string
}

// ReadConfig reads the bundle configuration from path. The bundle must
// name a rootfs and a single-argument CMD pointing at a .thd script that
// exists under the rootfs.
func ReadConfig(path string) (*Config, error) {
	filePath := filepath.Join(path, configFilename)
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found", configFilename)
		}
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var config config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	if config.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in config file %s", configFilename)
	}

	if len(config.Process.Args) != 1 {
		return nil, fmt.Errorf("incorrect number of args in the CMD. Expected 1, got %d", len(config.Process.Args))
	}

	arg0 := config.Process.Args[0]

	if filepath.Ext(arg0) != ".thd" {
		return nil, fmt.Errorf("entry point (%s) is not a .thd file", arg0)
	}

	script := filepath.Join(config.Root.Path, arg0)
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script %s does not exist: %w", arg0, err)
		}
		return nil, fmt.Errorf("checking script %s: %w", arg0, err)
	}

	split_path := []string{}
	for _, env := range config.Process.Env {
		if strings.HasPrefix(env, "PATH=") {
			split_path = strings.Split(env[5:], ":")
			break
		}
	}

	return &Config{
		Root:       config.Root.Path,
		Entrypoint: arg0,
		Path:       split_path,
	}, nil
}

func (c *Config) FullPath() string {
	return filepath.Join(c.Root, c.Entrypoint)
}
