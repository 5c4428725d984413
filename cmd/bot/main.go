package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/controlplane"
	"github.com/betbot/snipebot/internal/engine"
	"github.com/betbot/snipebot/internal/execution"
	"github.com/betbot/snipebot/internal/notify"
	"github.com/betbot/snipebot/internal/ports"
	"github.com/betbot/snipebot/internal/storage"
	"github.com/betbot/snipebot/pkg/config"
	"github.com/betbot/snipebot/pkg/logger"
	"github.com/betbot/snipebot/pkg/persistence"
	"github.com/betbot/snipebot/pkg/sdk/dexapi"
	"github.com/betbot/snipebot/pkg/sdk/solrpc"
	"github.com/betbot/snipebot/pkg/sdk/stream"
	"github.com/betbot/snipebot/pkg/secretstore"
	"github.com/betbot/snipebot/pkg/shutdown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "配置文件路径（YAML/JSON，留空用默认配置）")
	dryRun := flag.Bool("dry-run", false, "强制纸交易模式（覆盖配置）")
	flag.Parse()

	// .env 可选，线上一般直接注入环境变量
	_ = godotenv.Load()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		return err
	}
	if *dryRun {
		cfg.DryRun = true
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		return err
	}
	log := logrus.WithField("module", "main")
	log.Infof("🤖 snipebot 启动中... dryRun=%v config=%q", cfg.DryRun, *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 密钥库（实盘与通知的凭据来源）
	secrets, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.Secrets.Path,
		EncryptionKey: encryptionKeyFromEnv(),
	})
	if err != nil {
		return err
	}
	defer secrets.Close()

	sm := shutdown.NewManager()

	// 行情：推送流（可选）→ 缓存 → REST
	var ps *stream.PriceStream
	if cfg.Feed.WSEnabled && cfg.Feed.WSURL != "" {
		ps = stream.New(cfg.Feed.WSURL)
		go ps.Run(ctx)
	}
	feed := dexapi.New(&cfg.Feed, ps)

	// 余额对账
	var balance ports.BalanceSource
	if wallet := os.Getenv("WALLET_PUBKEY"); wallet != "" {
		balance = solrpc.New(cfg.Executor.RPCEndpoint, wallet,
			time.Duration(cfg.Executor.TimeoutMs)*time.Millisecond)
	} else {
		log.Warn("⚠️ 未配置 WALLET_PUBKEY，资金对账不可用")
	}

	// 成交历史
	store, err := storage.NewSQLite(cfg.Storage.Path)
	if err != nil {
		return err
	}
	sm.OnShutdown(func(context.Context) { store.Close() })

	// 通知
	var notifier ports.Notifier = ports.NopNotifier{}
	if cfg.Notify.Enabled {
		token, found, err := secrets.TelegramToken()
		if err != nil || !found {
			log.Warnf("⚠️ 通知已启用但密钥库无 Telegram token，降级为无通知: %v", err)
		} else {
			tg := notify.NewTelegram(&cfg.Notify, token)
			go tg.Run(ctx)
			notifier = tg
		}
	}

	// 执行层：纸交易或实盘中继
	var exec ports.Executor
	if cfg.DryRun {
		exec = execution.NewPaper(&cfg.Executor, feed)
		log.Info("📝 纸交易模式：不会发出真实交易")
	} else {
		apiKey, found, err := secrets.TradeAPIKey()
		if err != nil || !found {
			return fmt.Errorf("实盘模式需要密钥库中的 %s: %v", secretstore.KeyTradeAPIKey, err)
		}
		exec = execution.NewLive(&cfg.Executor, apiKey)
		log.Warn("💸 实盘模式：交易将真实发出")
	}

	eng := engine.New(cfg, engine.Deps{
		Feed:      feed,
		Exec:      exec,
		Balance:   balance,
		Store:     store,
		Notifier:  notifier,
		SnapStore: persistence.NewJSONStore("data", "ledger"),
	})
	if err := eng.Start(ctx); err != nil {
		return err
	}
	sm.OnShutdown(func(context.Context) { eng.Stop() })

	// 控制面
	if cfg.Control.Enabled {
		cp := controlplane.New(&cfg.Control, eng, store)
		cp.Start()
		sm.OnShutdown(func(ctx context.Context) { cp.Stop(ctx) })
	}

	<-ctx.Done()
	log.Info("🛑 收到退出信号")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	sm.Shutdown(shutdownCtx)
	log.Info("👋 snipebot 已退出")
	return nil
}

// encryptionKeyFromEnv 读取密钥库加密密钥（32 字节），未配置返回 nil（不加密）
func encryptionKeyFromEnv() []byte {
	k := os.Getenv("SECRETSTORE_KEY")
	if len(k) != 32 {
		return nil
	}
	return []byte(k)
}
