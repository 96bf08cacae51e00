package handlers

import (
	"fmt"
	"os"
)

const starterConfig = `# hatchery configuration
listen: ":8840"
database: "hatchery.db"
webhook_secret: "change-me"

backend:
  endpoint: "https://maas.example.com/MAAS/api/2.0"
  consumer_key: ""
  token_key: ""
  token_secret: ""

tracker:
  active_interval: 5s
  idle_interval: 60s

images:
  check_interval: 6h
  keep_versions: 5
  max_age_days: 90
  validation_tag: "image-validation"
  validation_boot_config: ""
  validation_eggs: []
  tracks: []
    # - name: "ubuntu-24.04"
    #   architecture: "amd64"
    #   upstream_url: "https://images.example.com/ubuntu-24.04/amd64/index.json"
`

// Init writes a starter configuration file. Existing files are preserved
// unless force is set.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Fill in the backend credentials before running 'hatchery serve'.")
	return nil
}
