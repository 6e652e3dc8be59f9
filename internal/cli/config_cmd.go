package cli

import (
	"fmt"
	"os"
	"runtime"

	"traj2gps/internal/config"
)

func (r *Root) configShow() error {
	fmt.Printf("Current configuration:\n")
	cfgPath, err := configPath()
	if err != nil {
		return err
	}
	fmt.Printf("Config file: %s\n\n", cfgPath)
	return printJSON(r.cfg)
}

func (r *Root) configValidate() error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	fmt.Println("configuration OK")
	return nil
}

func (r *Root) cmdVersion() error {
	fmt.Printf("traj2gps %s\n", Version)
	fmt.Printf("Built with Go %s\n", runtime.Version())
	fmt.Printf("Tools:\n")
	printToolStatus(r.newToolManager().GetToolStatus(), false)
	return nil
}

func configPath() (string, error) {
	p, err := config.Path()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return p + " (not found, using defaults)", nil
	}
	return p, nil
}
