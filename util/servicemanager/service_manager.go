// Package servicemanager runs long lived services side by side. A failing service cancels the
// others, and every service is stopped in reverse order of registration.
package servicemanager

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/bsv-blockchain/blockvault/util/health"
	"golang.org/x/sync/errgroup"
)

// Service is a component the manager drives. Start blocks until ctx is done or the service
// fails, and closes readyCh once it serves.
type Service interface {
	Init(ctx context.Context) error
	Start(ctx context.Context, readyCh chan<- struct{}) error
	Stop(ctx context.Context) error
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
}

type serviceWrapper struct {
	name     string
	instance Service
	readyCh  chan struct{}
}

type ServiceManager struct {
	services    []serviceWrapper
	logger      ulogger.Logger
	Ctx         context.Context
	cancelFunc  context.CancelFunc
	g           *errgroup.Group
	stopTimeout time.Duration
}

// NewServiceManager creates a manager whose context is canceled by SIGINT, SIGTERM or the
// first failing service.
func NewServiceManager(ctx context.Context, logger ulogger.Logger) *ServiceManager {
	ctx, cancelFunc := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	sm := &ServiceManager{
		logger:      logger,
		Ctx:         ctx,
		cancelFunc:  cancelFunc,
		g:           g,
		stopTimeout: 5 * time.Second,
	}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)

		select {
		case <-sigs:
			sm.logger.Infof("[ServiceManager] received shutdown signal, stopping services")
			sm.cancelFunc()
		case <-ctx.Done():
		}
	}()

	return sm
}

// AddService initializes the service and starts it in the background.
func (sm *ServiceManager) AddService(name string, service Service) error {
	sw := serviceWrapper{
		name:     name,
		instance: service,
		readyCh:  make(chan struct{}),
	}

	sm.logger.Infof("[ServiceManager] initializing service %s", name)

	if err := service.Init(sm.Ctx); err != nil {
		return errors.NewServiceError("failed to initialize %s", name, err)
	}

	sm.services = append(sm.services, sw)

	sm.logger.Infof("[ServiceManager] starting service %s", name)

	sm.g.Go(func() error {
		if err := service.Start(sm.Ctx, sw.readyCh); err != nil {
			sm.logger.Errorf("[ServiceManager] service %s failed: %v", name, err)
			return err
		}

		return nil
	})

	return nil
}

// WaitForServiceToBeReady blocks until every service signaled it serves, or ctx is done.
func (sm *ServiceManager) WaitForServiceToBeReady(ctx context.Context) error {
	for _, s := range sm.services {
		select {
		case <-s.readyCh:
			sm.logger.Debugf("[ServiceManager] service %s is ready", s.name)
		case <-ctx.Done():
			return errors.NewContextCanceledError("waiting for %s to be ready", s.name, ctx.Err())
		case <-sm.Ctx.Done():
			return errors.NewServiceNotStartedError("%s did not become ready", s.name)
		}
	}

	return nil
}

// ForceShutdown cancels all services.
func (sm *ServiceManager) ForceShutdown() {
	sm.cancelFunc()
}

// Wait blocks until the services are done, then stops all of them. A shutdown through the
// context is not an error.
func (sm *ServiceManager) Wait() error {
	err := sm.g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		sm.logger.Errorf("[ServiceManager] received error: %v", err)
	}

	sm.cancelFunc()

	for i := len(sm.services) - 1; i >= 0; i-- {
		service := sm.services[i]

		stopCtx, stopCancel := context.WithTimeout(context.Background(), sm.stopTimeout)

		sm.logger.Infof("[ServiceManager] stopping service %s", service.name)

		if stopErr := service.instance.Stop(stopCtx); stopErr != nil {
			sm.logger.Warnf("[ServiceManager][%s] failed to stop service: %v", service.name, stopErr)
		}

		stopCancel()
	}

	sm.logger.Infof("[ServiceManager] all services stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// HealthHandler aggregates the health of all services.
func (sm *ServiceManager) HealthHandler(ctx context.Context, checkLiveness bool) (int, string, error) {
	checks := make([]health.Check, 0, len(sm.services))

	for _, s := range sm.services {
		checks = append(checks, health.Check{Name: s.name, Check: s.instance.Health})
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}
