package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/minhyannv/taskflow"
	"github.com/minhyannv/taskflow/internal/batch"
	"github.com/minhyannv/taskflow/internal/config"
)

// OrderPayload 下单任务载荷
type OrderPayload struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Qty    float64 `json:"qty"`
}

// Fill 成交回报
type Fill struct {
	OrderID string  `json:"order_id"`
	Symbol  string  `json:"symbol"`
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`
}

func main() {
	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建日志器
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("创建日志器失败: %v", err)
	}
	defer logger.Sync()

	// 加载配置：指定了配置文件时从文件加载并监听变化，否则从环境变量加载
	cfgPath := os.Getenv("TASKFLOW_CONFIG_FILE")
	var cfg *config.Config
	if cfgPath != "" {
		cfg, err = config.LoadFromFile(cfgPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Fatal("加载配置失败", zap.Error(err))
	}

	// 创建引擎
	engine, err := taskflow.NewEngine(ctx,
		taskflow.WithConfig(cfg),
		taskflow.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("创建引擎失败", zap.Error(err))
	}
	defer engine.Close()

	if cfgPath != "" {
		if err := engine.WatchConfig(ctx, cfgPath); err != nil {
			logger.Warn("监听配置文件失败", zap.Error(err))
		}
	}

	// 注册处理器和批处理器
	registerHandlers(engine, logger)
	fills, err := newFillBatch(engine, logger)
	if err != nil {
		logger.Fatal("创建批处理器失败", zap.Error(err))
	}

	// 启动引擎
	if err := engine.Start(); err != nil {
		logger.Fatal("启动引擎失败", zap.Error(err))
	}

	// 提交示例任务
	submitExampleTasks(ctx, engine, fills, logger)

	// 设置优雅关闭
	setupGracefulShutdown(cancel, logger)

	// 定期打印统计信息，直到收到关闭信号
	printStats(ctx, engine, logger)

	engine.Stop()
	logger.Info("taskflow 已关闭")
}

// registerHandlers 注册命名处理器
func registerHandlers(engine *taskflow.Engine, logger *zap.Logger) {
	// 行情查询
	engine.RegisterHandler("fetch_price", func(ctx context.Context, symbol string) (interface{}, error) {
		logger.Info("查询行情", zap.String("symbol", symbol))
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return 100 + rand.Float64()*10, nil
	})

	// 下单
	engine.RegisterHandler("execute_order", func(ctx context.Context, payload string) (interface{}, error) {
		var order OrderPayload
		if err := json.Unmarshal([]byte(payload), &order); err != nil {
			return nil, fmt.Errorf("解析订单载荷失败: %w", err)
		}

		logger.Info("执行订单",
			zap.String("symbol", order.Symbol),
			zap.String("side", order.Side),
			zap.Float64("qty", order.Qty),
		)

		// 模拟交易所偶发拒单
		if rand.Intn(3) == 0 {
			return nil, fmt.Errorf("交易所暂时拒单")
		}
		return fmt.Sprintf("%s %s %.2f 已成交", order.Side, order.Symbol, order.Qty), nil
	})

	// 风控报表，同步 IO，放入阻塞执行池
	engine.RegisterBlockingHandler("risk_report", func(ctx context.Context, book string) (interface{}, error) {
		logger.Info("生成风控报表", zap.String("book", book))
		time.Sleep(200 * time.Millisecond)
		return fmt.Sprintf("报表 %s 已生成", book), nil
	})
}

// newFillBatch 成交回报批量落地：启用 Redis 时写入 Redis 列表，否则只记录日志
func newFillBatch(engine *taskflow.Engine, logger *zap.Logger) (*batch.Accumulator[Fill, int64], error) {
	cfg := taskflow.BatchConfig{Name: "fills", EnableDeduplication: true}
	if engine.RedisClient() != nil {
		return taskflow.NewRedisListBatch[Fill](engine, cfg, "taskflow:fills")
	}
	return taskflow.NewBatch[Fill, int64](engine, cfg,
		batch.ProcessorFunc[Fill, int64](func(_ context.Context, items []*batch.Item[Fill, int64]) ([]int64, error) {
			logger.Info("成交回报批量落地", zap.Int("count", len(items)))
			results := make([]int64, len(items))
			for i := range items {
				results[i] = int64(i + 1)
			}
			return results, nil
		}))
}

// submitExampleTasks 提交示例任务
func submitExampleTasks(ctx context.Context, engine *taskflow.Engine, fills *batch.Accumulator[Fill, int64], logger *zap.Logger) {
	logger.Info("提交示例任务...")
	sched := engine.Scheduler()

	// 先查行情，下单依赖行情
	symbols := []string{"BTC-USD", "ETH-USD", "SOL-USD"}
	var orderIDs []string
	for i, symbol := range symbols {
		priceID, err := sched.SubmitHandler(ctx, "fetch_price", symbol, taskflow.WithPriority(taskflow.PriorityHigh))
		if err != nil {
			logger.Error("提交行情任务失败", zap.Error(err))
			continue
		}

		payload, _ := json.Marshal(OrderPayload{Symbol: symbol, Side: "buy", Qty: float64(i + 1)})
		orderID, err := sched.SubmitHandler(ctx, "execute_order", string(payload),
			taskflow.WithPriority(taskflow.PriorityCritical),
			taskflow.WithDependencies(priceID),
			taskflow.WithMaxRetries(2),
			taskflow.WithGroup("orders"),
		)
		if err != nil {
			logger.Error("提交订单任务失败", zap.Error(err))
			continue
		}
		orderIDs = append(orderIDs, orderID)
	}

	// 低优先级报表
	if _, err := sched.SubmitHandler(ctx, "risk_report", "main-book", taskflow.WithPriority(taskflow.PriorityLow)); err != nil {
		logger.Error("提交报表任务失败", zap.Error(err))
	}

	// 周期刷新行情
	refresh := taskflow.Func(func(ctx context.Context) (interface{}, error) {
		logger.Debug("周期刷新行情")
		return nil, nil
	})
	if _, err := sched.SchedulePeriodic(refresh, 5*time.Second, time.Time{}, taskflow.WithPriority(taskflow.PriorityIdle)); err != nil {
		logger.Error("注册周期任务失败", zap.Error(err))
	}

	// 订单结束后把成交回报交给批处理器
	go func() {
		res, err := sched.WaitGroup(ctx, "orders", 30*time.Second)
		if err != nil {
			logger.Warn("等待订单分组失败", zap.Error(err))
		}
		for id := range res.Results {
			fills.Add(id, Fill{OrderID: id, Price: 100, Qty: 1}, nil, nil)
		}
		for id, err := range res.Errors {
			snap, _ := engine.GetTask(ctx, id)
			logger.Warn("订单最终失败",
				zap.String("task_id", id),
				zap.Int("retries", snap.RetryCount),
				zap.Error(err),
			)
		}
	}()

	logger.Info("所有示例任务已提交", zap.Int("orders", len(orderIDs)))
}

// setupGracefulShutdown 设置优雅关闭
func setupGracefulShutdown(cancel context.CancelFunc, logger *zap.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("收到关闭信号，正在优雅关闭...")
		cancel()
	}()
}

// printStats 定期打印统计信息，并清理一分钟前结束的任务（启用 Redis 时仍可从归档查询）
func printStats(ctx context.Context, engine *taskflow.Engine, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned := engine.Scheduler().Prune(time.Now().Add(-time.Minute))
			logger.Info("taskflow 统计信息", zap.Int("pruned", pruned), zap.Any("stats", engine.GetStats(ctx)))
		}
	}
}
