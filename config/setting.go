package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"time"
)

// ProjectConfig holds everything read from setting.json.
type ProjectConfig struct {
	Listen    listen    `json:"listen"`
	Log       log       `json:"log"`
	Admission admission `json:"admission"`
}

type listen struct {
	Addr        string `json:"addr"`
	Port        int    `json:"port"`
	UDPPortLow  int    `json:"udp_port_low"`
	UDPPortHigh int    `json:"udp_port_high"`
}

type log struct {
	Level string `json:"level"`
	Path  string `json:"path"`
}

// admission bounds the per-source-IP connection rate the Listener accepts
// before ever constructing a Transport.
type admission struct {
	Limit        int `json:"limit"`
	WindowSecond int `json:"window_seconds"`
}

// GlobalCfg is the process-wide effective configuration.
var GlobalCfg *ProjectConfig

func defaultConfig() *ProjectConfig {
	return &ProjectConfig{
		Listen: listen{
			Addr:        "",
			Port:        2021,
			UDPPortLow:  30001,
			UDPPortHigh: 40000,
		},
		Log: log{
			Level: "info",
			Path:  "scene-relay.log",
		},
		Admission: admission{
			Limit:        200,
			WindowSecond: 30,
		},
	}
}

func (c *ProjectConfig) AdmissionWindow() time.Duration {
	return time.Duration(c.Admission.WindowSecond) * time.Second
}

func init() {
	GlobalCfg = defaultConfig()
	// 支持通过环境变量覆盖配置文件路径
	path := os.Getenv("RELAY_CONFIG")
	if path == "" {
		path = "config/setting.json"
	}
	if _, err := os.Stat(path); err != nil {
		// No config file on disk: run on defaults, same as a fresh checkout.
		return
	}
	if err := Reload(path); err != nil {
		fmt.Printf("failed to load %s, keeping defaults: %s\n", path, err.Error())
	}
}

// Reload reads a config file from path, keeping defaults for any key the
// file omits, and swaps it in as GlobalCfg on success.
func Reload(path string) error {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	cfg := defaultConfig()
	if err := json.Unmarshal(buf, cfg); err != nil {
		return err
	}
	if err := cfg.verify(); err != nil {
		return err
	}
	GlobalCfg = cfg
	return nil
}

func (c *ProjectConfig) verify() error {
	if c.Listen.Port <= 0 {
		return fmt.Errorf("invalid listen port %d", c.Listen.Port)
	}
	if c.Listen.UDPPortLow <= 0 || c.Listen.UDPPortHigh <= c.Listen.UDPPortLow {
		return fmt.Errorf("invalid udp port range [%d, %d]", c.Listen.UDPPortLow, c.Listen.UDPPortHigh)
	}
	if c.Admission.Limit <= 0 {
		return fmt.Errorf("invalid admission limit %d", c.Admission.Limit)
	}
	if c.Admission.WindowSecond <= 0 {
		return fmt.Errorf("invalid admission window %d", c.Admission.WindowSecond)
	}
	return nil
}
