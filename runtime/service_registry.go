// Package runtime includes utilities for managing the lifecycle of the
// long-running services that make up a tournament validator process.
package runtime

import (
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "registry")

// Service is one long-running component of the validator node (the
// store-backed orchestrator, the metrics server). The node registers
// each into a ServiceRegistry and drives them as a unit.
type Service interface {
	// Start spawns the service's goroutines and returns; it must not
	// block.
	Start()
	// Stop terminates all goroutines belonging to the service,
	// blocking until they are all terminated.
	Stop() error
	// Status returns error if the service is not considered healthy.
	Status() error
}

// ServiceRegistry holds the node's services keyed by concrete type and
// remembers registration order, which fixes start order and (reversed)
// stop order.
type ServiceRegistry struct {
	services     map[reflect.Type]Service
	serviceTypes []reflect.Type
}

// NewServiceRegistry starts a registry instance for convenience.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[reflect.Type]Service),
	}
}

// StartAll starts each service in registration order. Start methods are
// non-blocking, so later services may rely on earlier ones already
// running.
func (s *ServiceRegistry) StartAll() {
	log.WithField("services", len(s.serviceTypes)).Debug("Starting services")
	for _, kind := range s.serviceTypes {
		log.Debugf("Starting service type %v", kind)
		s.services[kind].Start()
	}
}

// StopAll ends every service in reverse order of registration. A
// service that fails to stop is logged and the teardown continues; a
// stuck dependency must not leave the rest of the node running.
func (s *ServiceRegistry) StopAll() {
	for i := len(s.serviceTypes) - 1; i >= 0; i-- {
		kind := s.serviceTypes[i]
		if err := s.services[kind].Stop(); err != nil {
			log.WithError(err).Errorf("Could not stop the following service: %v", kind)
		}
	}
}

// Statuses returns a map of Service type -> error. The map will be
// populated with the results of each service.Status() method call.
func (s *ServiceRegistry) Statuses() map[reflect.Type]error {
	m := make(map[reflect.Type]error, len(s.serviceTypes))
	for _, kind := range s.serviceTypes {
		m[kind] = s.services[kind].Status()
	}
	return m
}

// RegisterService appends a service to the registry. At most one
// service per concrete type may be registered.
func (s *ServiceRegistry) RegisterService(service Service) error {
	kind := reflect.TypeOf(service)
	if _, exists := s.services[kind]; exists {
		return fmt.Errorf("service already exists: %v", kind)
	}
	s.services[kind] = service
	s.serviceTypes = append(s.serviceTypes, kind)
	return nil
}

// FetchService takes in a struct pointer and sets the value of that
// pointer to a service currently stored in the registry, so dependent
// services share the originally registered reference.
func (s *ServiceRegistry) FetchService(service interface{}) error {
	if reflect.TypeOf(service).Kind() != reflect.Ptr {
		return fmt.Errorf("input must be of pointer type, received value type instead: %T", service)
	}
	element := reflect.ValueOf(service).Elem()
	if running, ok := s.services[element.Type()]; ok {
		element.Set(reflect.ValueOf(running))
		return nil
	}
	return fmt.Errorf("unknown service: %T", service)
}
