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

package adspace

import (
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adspacehq/adspace/config"
	redis_db "github.com/adspacehq/adspace/internal/redis-db"
	"github.com/adspacehq/adspace/model"
)

// Queue hands settlement work to the asynq workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// SettlementTaskPayload is the body of a queued settlement run request.
type SettlementTaskPayload struct {
	RunID       string    `json:"run_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewQueue initializes the asynq client against the configured Redis.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueSettlementRun queues one settlement run. The task id keeps a run
// that is already queued or in flight from being queued twice.
func (q *Queue) EnqueueSettlementRun(payload SettlementTaskPayload) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if payload.RunID == "" {
		payload.RunID = model.GenerateUUIDWithSuffix("run")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(payload.RunID),
		asynq.Queue(cfg.Queue.SettlementQueue),
	}
	task := asynq.NewTask(cfg.Queue.SettlementQueue, body, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued settlement run: %+v", payload.RunID)
	return nil
}

// EnqueueSettlement hands a settlement run to the workers instead of running
// it inline, and returns the run id the workers will use.
func (a *Adspace) EnqueueSettlement() (string, error) {
	payload := SettlementTaskPayload{
		RunID:       model.GenerateUUIDWithSuffix("run"),
		RequestedAt: time.Now(),
	}
	if err := a.queue.EnqueueSettlementRun(payload); err != nil {
		return "", err
	}
	return payload.RunID, nil
}
