// Package config holds the tunables of a file system instance. Values come
// from the defaults, then an optional YAML file, then the environment.
package config

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/dvdphobia/unix-v6-sub000/common"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const envVarPrefix = "V6FS"

type Config struct {
	NBuf     int    `envconfig:"NBUF"     yaml:"nbuf"`
	NInode   int    `envconfig:"NINODE"   yaml:"ninode"`
	NMount   int    `envconfig:"NMOUNT"   yaml:"nmount"`
	Image    string `envconfig:"IMAGE"    yaml:"image"`
	ReadOnly bool   `envconfig:"READONLY" yaml:"readOnly"`
	Queued   bool   `envconfig:"QUEUED"   yaml:"queued"`
	UID      uint8  `envconfig:"UID"      yaml:"uid"`
	GID      uint8  `envconfig:"GID"      yaml:"gid"`
}

func Default() Config {
	return Config{
		NBuf:   common.NBUF,
		NInode: common.NINODE,
		NMount: common.NMOUNT,
		Image:  "v6.img",
	}
}

// Load reads the configuration. A missing file is not an error; an empty
// path skips the file altogether.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		if c.NBuf < 2 {
			return "nbuf", "NBUF"
		}
		if c.NInode < 1 {
			return "ninode", "NINODE"
		}
		if c.NMount < 1 {
			return "nmount", "NMOUNT"
		}
		if c.Image == "" {
			return "image", "IMAGE"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf(
			"invalid configuration: %s / %s_%s: %w",
			y,
			envVarPrefix,
			e,
			common.EINVAL,
		)
	}
	return nil
}
