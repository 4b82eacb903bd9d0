// Package config loads the YAML configuration of the controller, the
// stations and the machines. Command-line flags override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/machine"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/needs"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/server"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/station"
)

var ErrInvalid = errors.New("invalid configuration")

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Controller configures cmd/server.
type Controller struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	NATSURL     string `yaml:"nats_url"`
	// DBPath is the badger directory for the machine audit; empty keeps it in memory.
	DBPath  string    `yaml:"db_path"`
	Tracing bool      `yaml:"tracing"`
	Log     LogConfig `yaml:"log"`

	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	DeliveryTimeout   time.Duration `yaml:"delivery_timeout"`
	StartBatch        int           `yaml:"start_batch"`
	Policy            needs.Policy  `yaml:"policy"`
}

// Station configures `factoryctl station run`.
type Station struct {
	ID               string               `yaml:"id"`
	Controller       string               `yaml:"controller"`
	NATSURL          string               `yaml:"nats_url"`
	DBPath           string               `yaml:"db_path"`
	Zones            []station.ZoneConfig `yaml:"zones"`
	Recipe           station.Recipe       `yaml:"recipe"`
	AssembleInterval time.Duration        `yaml:"assemble_interval"`
	ReportInterval   time.Duration        `yaml:"report_interval"`
	Policy           needs.Policy         `yaml:"policy"`
	Log              LogConfig            `yaml:"log"`
}

// Machine configures `factoryctl machine run`.
type Machine struct {
	Controller string         `yaml:"controller"`
	Machine    machine.Config `yaml:"machine"`
	Log        LogConfig      `yaml:"log"`
}

func DefaultController() Controller {
	def := server.DefaultConfig()
	return Controller{
		GRPCAddr:          ":50051",
		HTTPAddr:          ":8080",
		MetricsAddr:       ":9090",
		NATSURL:           "nats://127.0.0.1:4222",
		Log:               LogConfig{Level: "info"},
		ReconcileInterval: def.ReconcileInterval,
		DeliveryTimeout:   def.DeliveryTimeout,
		StartBatch:        def.StartBatch,
		Policy:            def.Policy,
	}
}

// DefaultStation is the two-type reference station: a product needs two
// TYPE_A and one TYPE_B.
func DefaultStation() Station {
	return Station{
		ID:         "S1",
		Controller: "127.0.0.1:50051",
		NATSURL:    "nats://127.0.0.1:4222",
		Zones: []station.ZoneConfig{
			{Type: "TYPE_A", Capacity: 10},
			{Type: "TYPE_B", Capacity: 10},
		},
		Recipe: station.Recipe{
			{Type: "TYPE_A", Quantity: 2},
			{Type: "TYPE_B", Quantity: 1},
		},
		AssembleInterval: station.DefaultAssembleInterval,
		ReportInterval:   station.DefaultReportInterval,
		Policy:           needs.DefaultPolicy(),
		Log:              LogConfig{Level: "info"},
	}
}

func DefaultMachine() Machine {
	return Machine{
		Controller: "127.0.0.1:50051",
		Machine: machine.Config{
			ProductionInterval: machine.DefaultProductionInterval,
			StatusInterval:     machine.DefaultStatusInterval,
			DefectRate:         machine.DefaultDefectRate,
			FailureRate:        machine.DefaultFailureRate,
		},
		Log: LogConfig{Level: "info"},
	}
}

// ServerConfig extracts the controller tuning.
func (c Controller) ServerConfig() server.Config {
	return server.Config{
		ReconcileInterval: c.ReconcileInterval,
		DeliveryTimeout:   c.DeliveryTimeout,
		StartBatch:        c.StartBatch,
		Policy:            c.Policy,
	}
}

func (c Controller) Validate() error {
	var err error
	if c.GRPCAddr == "" {
		err = multierr.Append(err, errors.New("grpc_addr required"))
	}
	if c.ReconcileInterval <= 0 {
		err = multierr.Append(err, errors.New("reconcile_interval must be positive"))
	}
	if c.DeliveryTimeout <= 0 {
		err = multierr.Append(err, errors.New("delivery_timeout must be positive"))
	}
	if c.StartBatch <= 0 {
		err = multierr.Append(err, errors.New("start_batch must be positive"))
	}
	err = multierr.Append(err, validatePolicy(c.Policy))
	return wrap(err)
}

func (s Station) Validate() error {
	var err error
	if s.ID == "" {
		err = multierr.Append(err, errors.New("id required"))
	} else if !station.ValidID(s.ID) {
		err = multierr.Append(err, fmt.Errorf("id %q must not contain dots, wildcards or whitespace", s.ID))
	}
	if s.Controller == "" {
		err = multierr.Append(err, errors.New("controller required"))
	}
	if len(s.Zones) == 0 {
		err = multierr.Append(err, errors.New("at least one zone required"))
	}
	if len(s.Recipe) == 0 {
		err = multierr.Append(err, errors.New("recipe required"))
	}
	err = multierr.Append(err, validatePolicy(s.Policy))
	if err == nil {
		// zone/recipe consistency is checked by the station itself
		if _, serr := station.New(s.ID, s.Zones, s.Recipe, s.Policy); serr != nil {
			err = serr
		}
	}
	return wrap(err)
}

func (m Machine) Validate() error {
	var err error
	if m.Controller == "" {
		err = multierr.Append(err, errors.New("controller required"))
	}
	if m.Machine.ID == "" {
		err = multierr.Append(err, errors.New("machine.id required"))
	}
	if m.Machine.Type == "" {
		err = multierr.Append(err, errors.New("machine.type required"))
	}
	for name, p := range map[string]float64{"defect_rate": m.Machine.DefectRate, "failure_rate": m.Machine.FailureRate} {
		if p < 0 || p > 1 {
			err = multierr.Append(err, fmt.Errorf("machine.%s must be within [0,1]", name))
		}
	}
	return wrap(err)
}

func validatePolicy(p needs.Policy) error {
	if p.LowWatermark <= 0 || p.LowWatermark >= 100 {
		return fmt.Errorf("policy.low_watermark must be within (0,100), got %d", p.LowWatermark)
	}
	return nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, err)
}

// Load reads path into cfg, which should already hold defaults. A missing
// path leaves cfg unchanged.
func Load(path string, cfg any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
