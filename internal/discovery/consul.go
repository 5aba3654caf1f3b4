// Package discovery registers this instance with Consul so the gateway can
// route websocket and REST traffic to healthy instances.
package discovery

import (
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

type Config struct {
	ConsulAddr    string
	ServiceName   string
	ServiceID     string
	Address       string
	Port          int
	Tags          []string
	HealthPath    string
	CheckInterval time.Duration
}

type Registrar struct {
	agent  *consulapi.Agent
	reg    *consulapi.AgentServiceRegistration
	logger *zap.SugaredLogger
}

func NewRegistrar(cfg Config, logger *zap.SugaredLogger) (*Registrar, error) {
	consulCfg := consulapi.DefaultConfig()
	if cfg.ConsulAddr != "" {
		consulCfg.Address = cfg.ConsulAddr
	}
	client, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, err
	}
	return &Registrar{agent: client.Agent(), reg: registration(cfg), logger: logger}, nil
}

func registration(cfg Config) *consulapi.AgentServiceRegistration {
	id := cfg.ServiceID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", cfg.ServiceName, cfg.Address, cfg.Port)
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/v1/health"
	}
	return &consulapi.AgentServiceRegistration{
		ID:      id,
		Name:    cfg.ServiceName,
		Address: cfg.Address,
		Port:    cfg.Port,
		Tags:    cfg.Tags,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d%s", cfg.Address, cfg.Port, healthPath),
			Interval:                       interval.String(),
			Timeout:                        (interval / 2).String(),
			DeregisterCriticalServiceAfter: (10 * interval).String(),
		},
	}
}

func (r *Registrar) Register() error {
	if err := r.agent.ServiceRegister(r.reg); err != nil {
		return fmt.Errorf("consul register %s: %w", r.reg.ID, err)
	}
	r.logger.Infow("registered with consul", "service_id", r.reg.ID, "name", r.reg.Name)
	return nil
}

func (r *Registrar) Deregister() error {
	if err := r.agent.ServiceDeregister(r.reg.ID); err != nil {
		return fmt.Errorf("consul deregister %s: %w", r.reg.ID, err)
	}
	r.logger.Infow("deregistered from consul", "service_id", r.reg.ID)
	return nil
}
