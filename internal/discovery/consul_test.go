package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistration(t *testing.T) {
	reg := registration(Config{
		ServiceName:   "realtime-service",
		Address:       "10.0.0.7",
		Port:          8086,
		Tags:          []string{"ws"},
		CheckInterval: 4 * time.Second,
	})
	assert.Equal(t, "realtime-service-10.0.0.7-8086", reg.ID)
	assert.Equal(t, "http://10.0.0.7:8086/v1/health", reg.Check.HTTP)
	assert.Equal(t, "4s", reg.Check.Interval)
	assert.Equal(t, "2s", reg.Check.Timeout)
	assert.Equal(t, "40s", reg.Check.DeregisterCriticalServiceAfter)
	assert.Equal(t, []string{"ws"}, reg.Tags)
}

func TestRegistrationExplicitID(t *testing.T) {
	reg := registration(Config{ServiceName: "rt", ServiceID: "rt-1", Address: "h", Port: 1, HealthPath: "/ready"})
	assert.Equal(t, "rt-1", reg.ID)
	assert.Equal(t, "http://h:1/ready", reg.Check.HTTP)
	assert.Equal(t, "10s", reg.Check.Interval)
}

func TestNewRegistrarDoesNotDial(t *testing.T) {
	r, err := NewRegistrar(Config{ConsulAddr: "127.0.0.1:1", ServiceName: "rt", Address: "h", Port: 1}, nil)
	assert.NoError(t, err)
	assert.NotNil(t, r)
}
