package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/tdex-network/tdex-escrow/internal/config"
	"github.com/tdex-network/tdex-escrow/internal/core/application/protocol"
	"github.com/tdex-network/tdex-escrow/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/accountage"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/keyring"
	p2pinmemory "github.com/tdex-network/tdex-escrow/internal/infrastructure/p2p/inmemory"
	infrapubsub "github.com/tdex-network/tdex-escrow/internal/infrastructure/pubsub"
	dbbadger "github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/badger"
	dbinmemory "github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/inmemory"
	dbsqlite "github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/sqlite"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/wallet/failover"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/wallet/simulated"
	httpinterface "github.com/tdex-network/tdex-escrow/internal/interfaces/http"
	"github.com/tdex-network/tdex-escrow/pkg/stats"
)

const (
	arbitratorName = "arbitrator"
	// sandboxFunds is the initial balance of every trader wallet.
	sandboxFunds  = uint64(1e14)
	statsFileName = "stats"
)

var traderNames = []string{"alice", "bob"}

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	datadir := config.GetDatadir()
	dbType := config.GetString(config.DBTypeKey)
	tradeCfg := config.GetTradeConfig()
	paymentMethods, err := config.GetPaymentMethods()
	if err != nil {
		log.WithError(err).Fatal("failed to load payment methods")
	}

	network := p2pinmemory.NewNetwork()
	chain := simulated.NewChain()
	arbitrators := keyring.NewArbitratorRegistry()
	witnesses := accountage.NewRegistry()

	opts := nodeOpts{
		datadir:        datadir,
		dbType:         dbType,
		tradeCfg:       tradeCfg,
		paymentMethods: paymentMethods,
		network:        network,
		chain:          chain,
		arbitrators:    arbitrators,
		witnesses:      witnesses,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes := make([]*node, 0, len(traderNames)+1)
	stop := func() {
		for _, n := range nodes {
			n.close()
		}
		network.Close()
	}

	arbitrator, err := newNode(ctx, arbitratorName, 0, opts)
	if err != nil {
		stop()
		log.WithError(err).Fatal("failed to start arbitrator node")
	}
	nodes = append(nodes, arbitrator)
	arbitrators.RegisterArbitrator(arbitrator.addr, arbitrator.keys.PubKeyRing())

	for _, name := range traderNames {
		n, err := newNode(ctx, name, sandboxFunds, opts)
		if err != nil {
			stop()
			log.WithError(err).Fatalf("failed to start node %s", name)
		}
		nodes = append(nodes, n)
	}

	go mineBlocks(ctx, chain, config.GetDuration(config.BlockIntervalKey))

	httpNodes := make([]httpinterface.Node, 0, len(nodes))
	openTrades := make(map[string]stats.OpenTradesFunc)
	for _, n := range nodes {
		httpNodes = append(httpNodes, httpinterface.Node{
			Name:       n.name,
			TradeSvc:   n.tradeSvc,
			WebhookSvc: n.pubsubSvc,
		})
		openTrades[n.name] = n.countOpenTrades
		if err := stats.RegisterOpenTradesGauge(
			prometheus.DefaultRegisterer, n.name, n.countOpenTrades,
		); err != nil {
			log.WithError(err).Warnf("failed to register gauge for node %s", n.name)
		}
	}

	if interval := config.GetInt(config.StatsIntervalKey); interval > 0 {
		dumpPath := ""
		if dbType != config.DBInMemory {
			dumpPath = filepath.Join(datadir, statsFileName)
		}
		stats.EnableStatistics(
			ctx, time.Duration(interval)*time.Second, dumpPath, openTrades,
		)
	}

	httpSvc, err := httpinterface.NewService(httpinterface.ServiceOpts{
		Address:        fmt.Sprintf(":%d", config.GetInt(config.ListeningPortKey)),
		PaymentMethods: paymentMethods,
		Nodes:          httpNodes,
		WithMetrics:    true,
	})
	if err != nil {
		stop()
		log.WithError(err).Fatal("failed to init http interface")
	}
	if err := httpSvc.Start(); err != nil {
		stop()
		log.WithError(err).Fatal("failed to start http interface")
	}

	log.Infof(
		"escrow sandbox started with nodes %s, %v on %s",
		arbitratorName, traderNames, httpSvc.Address(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down daemon")

	httpSvc.Stop()
	cancel()
	stop()

	log.Info("exiting")
}

func mineBlocks(ctx context.Context, chain *simulated.Chain, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			txs := chain.MineBlock()
			log.WithField("height", chain.Height()).Debugf(
				"mined block with %d txs", len(txs),
			)
		}
	}
}

type nodeOpts struct {
	datadir        string
	dbType         string
	tradeCfg       trade.Config
	paymentMethods *domain.PaymentMethods
	network        *p2pinmemory.Network
	chain          *simulated.Chain
	arbitrators    keyring.ArbitratorRegistry
	witnesses      *accountage.Registry
}

type node struct {
	name      string
	addr      domain.NodeAddress
	keys      ports.KeyRing
	repoMgr   ports.RepoManager
	wallet    ports.WalletService
	pubsubSvc *pubsub.Service
	tradeSvc  *trade.Service
}

func newNode(
	ctx context.Context, name string, funds uint64, opts nodeOpts,
) (*node, error) {
	keys, err := keyring.NewKeyRing()
	if err != nil {
		return nil, err
	}
	addr := domain.NodeAddress(fmt.Sprintf("%s.onion:9999", name))
	p2pNode, err := opts.network.AddNode(addr, keys.PubKeyRing())
	if err != nil {
		return nil, err
	}

	simWallet, err := simulated.NewWallet(opts.chain, name, 0)
	if err != nil {
		return nil, err
	}
	if funds > 0 {
		if err := simWallet.Fund(funds); err != nil {
			return nil, err
		}
	}
	wallet, err := failover.NewService(simWallet)
	if err != nil {
		return nil, err
	}

	age, err := accountage.NewService(opts.witnesses, keys, 0)
	if err != nil {
		return nil, err
	}

	n := &node{name: name, addr: addr, keys: keys, wallet: wallet}
	if n.repoMgr, err = newRepoManager(opts.dbType, nodeDbDir(opts, name)); err != nil {
		n.close()
		return nil, err
	}

	pubsubStoreDir := ""
	if opts.dbType != config.DBInMemory {
		pubsubStoreDir = filepath.Join(nodeDbDir(opts, name), "pubsub")
	}
	pubsubStore, err := dbbadger.NewStore(pubsubStoreDir, nil)
	if err != nil {
		n.close()
		return nil, fmt.Errorf("opening pubsub db: %w", err)
	}
	securePubSub, err := infrapubsub.NewService(pubsubStore)
	if err != nil {
		pubsubStore.Close()
		n.close()
		return nil, err
	}
	n.pubsubSvc = pubsub.NewService(securePubSub)

	n.tradeSvc, err = trade.NewService(protocol.Services{
		Wallet:         wallet,
		P2P:            p2pNode,
		KeyRing:        keys,
		Arbitrators:    opts.arbitrators,
		AccountAge:     age,
		Repository:     n.repoMgr.TradeRepository(),
		PaymentMethods: opts.paymentMethods,
	}, n.pubsubSvc, opts.tradeCfg)
	if err != nil {
		n.close()
		return nil, err
	}
	if err := n.tradeSvc.Start(ctx); err != nil {
		n.close()
		return nil, err
	}

	log.WithField("node", name).Infof("node started at %s", addr)
	return n, nil
}

func (n *node) countOpenTrades() int {
	trades, err := n.tradeSvc.ListTrades(context.Background(), true)
	if err != nil {
		return 0
	}
	return len(trades)
}

func (n *node) close() {
	if n.tradeSvc != nil {
		n.tradeSvc.Stop()
	}
	if n.pubsubSvc != nil {
		if err := n.pubsubSvc.Close(); err != nil {
			log.WithError(err).Warnf("failed to close pubsub of node %s", n.name)
		}
	}
	if n.repoMgr != nil {
		n.repoMgr.Close()
	}
	n.wallet.Close()
	log.WithField("node", n.name).Debug("node stopped")
}

func nodeDbDir(opts nodeOpts, name string) string {
	if opts.dbType == config.DBInMemory {
		return ""
	}
	return filepath.Join(opts.datadir, config.DbLocation, name)
}

func newRepoManager(dbType, dbDir string) (ports.RepoManager, error) {
	switch dbType {
	case config.DBBadger:
		badgerLogger := log.New()
		badgerLogger.SetLevel(log.WarnLevel)
		return dbbadger.NewRepoManager(dbDir, badgerLogger)
	case config.DBSqlite:
		return dbsqlite.NewRepoManager(dbDir)
	case config.DBInMemory:
		return dbinmemory.NewRepoManager(), nil
	default:
		return nil, fmt.Errorf("unknown db type %q", dbType)
	}
}
