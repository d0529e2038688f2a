package main

import (
	"context"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/cache"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/chain"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/config"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/grant"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/server"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("config error", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()

	var store cache.Store = cache.NewMemoryStore()
	if cfg.Cache.PostgresDSN != "" {
		pgStore, err := cache.NewPostgresStore(ctx, cfg.Cache.PostgresDSN)
		if err != nil {
			log.Error("cache store error", slog.Any("error", err))
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
	}

	fakeClient := chain.NewFakeClient()
	var chainClient chain.Client = fakeClient
	var balances eligibility.BalanceReader
	var profiles eligibility.ProfileReader = fakeClient
	if cfg.Chain.RPCURL != "" {
		ethClient, err := chain.NewEthClient(ctx, chain.EthClientConfig{
			RPCURL:                 cfg.Chain.RPCURL,
			ContractAddress:        cfg.Chain.CardContract,
			ProfileRegistryAddress: cfg.Deployment.Contracts.ProfileRegistry,
			PrivateKeyHex:          cfg.Chain.IssuerPrivateKey,
		})
		if err != nil {
			log.Error("chain client error", slog.Any("error", err))
			os.Exit(1)
		}
		chainClient = ethClient
		balances = ethClient
		profiles = nil
		if cfg.Deployment.Contracts.ProfileRegistry != "" {
			profiles = ethClient
		}
	}

	var whitelist eligibility.Membership = eligibility.NewStaticAllowlist()
	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		whitelist = eligibility.NewRedisAllowlist(rdb)
	}

	checkers := map[eligibility.Type]eligibility.Membership{
		eligibility.Whitelist: whitelist,
	}
	if balances != nil {
		checkers[eligibility.TokenHolder] = &eligibility.TokenHolderCheck{Reader: balances}
	}
	if profiles != nil {
		checkers[eligibility.ProfileRequired] = &eligibility.ProfileCheck{Reader: profiles}
	}
	eval := &eligibility.Evaluator{Checkers: checkers}

	var signer *grant.Signer
	if cfg.Chain.IssuerPrivateKey != "" {
		signer, err = grant.NewSigner(cfg.Chain.IssuerPrivateKey, grant.Domain{
			ChainID:           big.NewInt(cfg.Chain.ChainID),
			VerifyingContract: common.HexToAddress(cfg.Chain.CardContract),
		})
		if err != nil {
			log.Error("issuer signer error", slog.Any("error", err))
			os.Exit(1)
		}
		log.Info("issuer signing enabled", slog.String("issuer", signer.Address().Hex()))
	}

	apiServer := server.NewServer(cfg, chainClient, store, signer, eval, log)

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	go apiServer.Syncer().Run(syncCtx)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Info("server stopped", slog.Any("error", err))
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	stopSync()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}
