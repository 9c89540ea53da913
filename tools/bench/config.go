package main

import (
	"fmt"
	"strings"
	"time"
)

// Config carries the settings shared by the load, run and verify commands.
type Config struct {
	// API endpoint of the coordinator
	APIURL string

	// Load options
	Records int

	// Run options
	Duration time.Duration
	Threads  int

	// Workload mix, must sum to 100
	ReadPct   int
	CreatePct int
	UpdatePct int
	SearchPct int

	// Verify options: direct connections to the three nodes
	Hosts    string
	Database string
	User     string
	Password string
	Samples  int
	Timeout  time.Duration

	hostList []string
}

func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api url cannot be empty")
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")

	if c.Records < 0 {
		return fmt.Errorf("records must be non-negative")
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}

	if total := c.ReadPct + c.CreatePct + c.UpdatePct + c.SearchPct; total != 100 {
		return fmt.Errorf("workload percentages must sum to 100, got %d", total)
	}

	return nil
}

// ValidateVerify checks the settings the verify command needs on top of the
// shared ones. Exactly three hosts: master, slave 1, slave 2, in that order.
func (c *Config) ValidateVerify() error {
	if c.Hosts == "" {
		return fmt.Errorf("hosts cannot be empty")
	}

	c.hostList = strings.Split(c.Hosts, ",")
	for i, h := range c.hostList {
		c.hostList[i] = strings.TrimSpace(h)
		if c.hostList[i] == "" {
			return fmt.Errorf("empty host in list")
		}
	}
	if len(c.hostList) != 3 {
		return fmt.Errorf("verify needs exactly 3 hosts (master,slave1,slave2), got %d", len(c.hostList))
	}

	if c.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}
	if c.Samples < 1 {
		return fmt.Errorf("samples must be at least 1")
	}
	return nil
}
