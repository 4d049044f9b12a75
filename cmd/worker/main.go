package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ledgerpay/internal/config"
	"ledgerpay/internal/infrastructure/cache"
	"ledgerpay/internal/infrastructure/database"
	"ledgerpay/internal/infrastructure/mq"
	"ledgerpay/internal/service"
	"ledgerpay/internal/worker"
	"ledgerpay/pkg/idgen"
)

// 结算 worker 独立进程：单并发消费结算主题，把任务落成账本流水
func main() {
	cfg := config.LoadConfig("config/config.yaml")

	idgen.Init(2)

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)

	// 死信投递也要用生产者
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	group := mq.NewConsumerGroup(&cfg.Kafka, cfg.Kafka.Group.Settlement)
	defer group.Close()

	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	settlementWorker := worker.NewSettlementWorker(
		group,
		service.NewSettlementService(db),
		redisClient,
		cfg,
		instanceID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- settlementWorker.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("正在关闭 worker...")
		cancel()
		<-done
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("worker 异常退出: %v", err)
		}
	}

	log.Println("worker 已关闭")
}
