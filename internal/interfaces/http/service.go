package httpinterface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	interfaces "github.com/tdex-network/tdex-escrow/internal/interfaces"
)

const shutdownTimeout = 5 * time.Second

// Node is a local node whose operator API is mounted under /{Name}.
type Node struct {
	Name       string
	TradeSvc   TradeService
	WebhookSvc WebhookService
}

type ServiceOpts struct {
	Address        string
	PaymentMethods *domain.PaymentMethods
	Nodes          []Node
	WithMetrics    bool
}

func (o ServiceOpts) validate() error {
	if o.Address == "" {
		return fmt.Errorf("missing listening address")
	}
	if o.PaymentMethods == nil {
		return fmt.Errorf("payment methods must not be null")
	}
	if len(o.Nodes) == 0 {
		return fmt.Errorf("missing nodes")
	}
	names := make(map[string]struct{})
	for _, n := range o.Nodes {
		if n.Name == "" {
			return fmt.Errorf("missing node name")
		}
		if _, ok := names[n.Name]; ok {
			return fmt.Errorf("duplicated node name %s", n.Name)
		}
		names[n.Name] = struct{}{}
		if n.TradeSvc == nil || n.WebhookSvc == nil {
			return fmt.Errorf("app services of node %s must not be null", n.Name)
		}
	}
	return nil
}

type service struct {
	opts   ServiceOpts
	server *http.Server
	addr   string
}

// NewService returns the HTTP interface serving the operator API of every
// given node on a single port.
func NewService(opts ServiceOpts) (interfaces.Service, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid opts: %s", err)
	}
	return &service{opts: opts}, nil
}

func (s *service) Start() error {
	lis, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}

	s.addr = lis.Addr().String()
	s.server = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.server.Serve(lis); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http interface stopped")
		}
	}()

	log.Infof("operator interface is listening on %s", s.addr)
	return nil
}

func (s *service) Address() string {
	return s.addr
}

func (s *service) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("failed to gracefully stop http interface")
	}
	log.Debug("disabled operator interface")
}

func (s *service) router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	for _, n := range s.opts.Nodes {
		r.Mount("/"+n.Name, NewHandler(n.TradeSvc, n.WebhookSvc, s.opts.PaymentMethods))
	}
	if s.opts.WithMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Debugf("%s %s", r.Method, r.URL.Path)
	})
}
