/*
Copyright 2024 Adspace Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/adspacehq/adspace"
	"github.com/adspacehq/adspace/config"
	"github.com/adspacehq/adspace/internal/apierror"
	redis_db "github.com/adspacehq/adspace/internal/redis-db"
)

// processSettlementRun executes a queued settlement run. A run that loses
// the run lock to a concurrent invocation is dropped, not retried: the other
// run is doing the same work.
func (app *appInstance) processSettlementRun(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("settlement.worker").Start(ctx, "Process Settlement Run From Queue")
	defer span.End()

	var payload adspace.SettlementTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	run, err := app.adspace.RunSettlement(ctx)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			logrus.Infof("settlement run %s skipped: another run holds the lock", payload.RunID)
			return nil
		}
		return err
	}

	log.Println(" [*] Settlement Run Processed", run.RunID)
	return nil
}

func initializeQueues(conf *config.Configuration) map[string]int {
	queues := make(map[string]int)
	queues[conf.Queue.SettlementQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisOption.Addr,
			Password: redisOption.Password,
			DB:       redisOption.DB,
		},
		asynq.Config{
			// Settlement runs are serialized by the run lock anyway;
			// one worker keeps the queue drained without contention.
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

// initializeScheduler registers the nightly settlement run on the
// configured cron expression.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     redisOption.Addr,
			Password: redisOption.Password,
			DB:       redisOption.DB,
		},
		nil,
	)

	payload, err := json.Marshal(adspace.SettlementTaskPayload{})
	if err != nil {
		return nil, err
	}
	task := asynq.NewTask(conf.Queue.SettlementQueue, payload, asynq.Queue(conf.Queue.SettlementQueue))
	entryID, err := scheduler.Register(conf.Queue.Schedule, task)
	if err != nil {
		return nil, fmt.Errorf("error registering settlement schedule: %v", err)
	}
	log.Printf("Registered settlement schedule %q as entry %s", conf.Queue.Schedule, entryID)
	return scheduler, nil
}

// workerCommands defines the "workers" command: the asynq server that
// consumes settlement run tasks, plus the scheduler that enqueues them on
// the configured cron.
func workerCommands(app *appInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start settlement workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues(conf)

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			mux.HandleFunc(conf.Queue.SettlementQueue, app.processSettlementRun)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			go func() {
				if err := scheduler.Run(); err != nil {
					log.Fatalf("could not run scheduler: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
