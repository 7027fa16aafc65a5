package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dhcgn/mail-export/model"
)

// targetsFile is the on-disk layout of the --targets YAML file.
type targetsFile struct {
	Targets     []model.ExportTarget `yaml:"targets"`
	Concurrency int                  `yaml:"concurrency"`
	Attachments struct {
		MaxBytes      int64    `yaml:"max_bytes"`
		AllowedKinds  []string `yaml:"allowed_kinds"`
		NameCollision string   `yaml:"name_collision"`
	} `yaml:"attachments"`
}

// applyTargetsFile overlays cfg with values from the YAML file. Only
// fields the file actually sets are applied.
func applyTargetsFile(cfg *Config) error {
	raw, err := os.ReadFile(cfg.TargetsFile)
	if err != nil {
		return fmt.Errorf("read targets file: %w", err)
	}

	var tf targetsFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return fmt.Errorf("parse targets file: %w", err)
	}

	if len(tf.Targets) > 0 {
		cfg.Targets = tf.Targets
	}
	if tf.Concurrency > 0 {
		cfg.Concurrency = tf.Concurrency
	}
	if tf.Attachments.MaxBytes > 0 {
		cfg.MaxAttachmentBytes = tf.Attachments.MaxBytes
	}
	if len(tf.Attachments.AllowedKinds) > 0 {
		cfg.AllowedKinds = tf.Attachments.AllowedKinds
	}
	if tf.Attachments.NameCollision != "" {
		cfg.NameCollision = tf.Attachments.NameCollision
	}
	return nil
}
