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

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adspacehq/adspace"
	"github.com/adspacehq/adspace/config"
	"github.com/adspacehq/adspace/database/mocks"
	"github.com/adspacehq/adspace/model"
)

const testSecret = "adspace-test-secret"

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	err := json.NewDecoder(resp.Body).Decode(&s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testSecret}
}

func setupRouter(t *testing.T) (*gin.Engine, *mocks.MockDataSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: true, SecretKey: testSecret},
		Redis:  config.RedisConfig{Dns: mr.Addr()},
		Settlement: config.SettlementConfig{
			Currency:              "USD",
			FirstTranchePercent:   30,
			ProofGraceDays:        5,
			ReminderLookaheadDays: 3,
			MaxTransientAttempts:  7,
			Workers:               2,
		},
		Queue: config.QueueConfig{SettlementQueue: "settlement", Schedule: "@midnight"},
	})

	datasource := new(mocks.MockDataSource)
	engine, err := adspace.NewAdspace(datasource)
	require.NoError(t, err)

	return NewAPI(engine).Router(), datasource, mr
}

func expectEmptyRun(datasource *mocks.MockDataSource) {
	datasource.On("GetFirstPayoutCandidates", mock.Anything).Return([]*model.Booking{}, nil)
	datasource.On("GetFinalPayoutCandidates", mock.Anything, mock.Anything).Return([]*model.Booking{}, nil)
	datasource.On("GetStaleProofBookings", mock.Anything).Return([]*model.Booking{}, nil)
	datasource.On("GetVerificationDueBookings", mock.Anything, mock.Anything, mock.Anything).Return([]*model.Booking{}, nil)
	datasource.On("RecordSettlementRun", mock.Anything, mock.Anything).Return(&model.SettlementRun{}, nil)
}

func TestTriggerSettlement(t *testing.T) {
	router, datasource, _ := setupRouter(t)
	expectEmptyRun(datasource)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Method:   "POST",
		Route:    "/settlements/run",
		Router:   router,
		Response: &response,
		Header:   authHeader(),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, response["success"])
	assert.NotEmpty(t, response["run_id"])
	assert.NotEmpty(t, response["timestamp"])
	datasource.AssertCalled(t, "RecordSettlementRun", mock.Anything, mock.Anything)
}

func TestTriggerSettlementAsync(t *testing.T) {
	router, datasource, _ := setupRouter(t)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Method:   "POST",
		Route:    "/settlements/run?async=true",
		Router:   router,
		Response: &response,
		Header:   authHeader(),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, true, response["queued"])
	assert.NotEmpty(t, response["run_id"])
	// The run is handed to the workers, not executed inline.
	datasource.AssertNotCalled(t, "RecordSettlementRun", mock.Anything, mock.Anything)
}

func TestTriggerSettlementMissingToken(t *testing.T) {
	router, _, _ := setupRouter(t)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Method:   "POST",
		Route:    "/settlements/run",
		Router:   router,
		Response: &response,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestTriggerSettlementInvalidToken(t *testing.T) {
	router, _, _ := setupRouter(t)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Method:   "POST",
		Route:    "/settlements/run",
		Router:   router,
		Response: &response,
		Header:   map[string]string{"Authorization": "Bearer wrong-secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestTriggerSettlementConflict(t *testing.T) {
	router, _, mr := setupRouter(t)
	require.NoError(t, mr.Set("settlement:run-lock", "another-run"))

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Method:   "POST",
		Route:    "/settlements/run",
		Router:   router,
		Response: &response,
		Header:   authHeader(),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestGetRecentRuns(t *testing.T) {
	router, datasource, _ := setupRouter(t)
	datasource.On("GetRecentSettlementRuns", mock.Anything, 20).
		Return([]model.SettlementRun{{RunID: "run_1"}}, nil)

	var response struct {
		Runs []model.SettlementRun `json:"runs"`
	}
	resp, err := SetUpTestRequest(TestRequest{
		Method:   "GET",
		Route:    "/settlements/runs",
		Router:   router,
		Response: &response,
		Header:   authHeader(),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, response.Runs, 1)
	assert.Equal(t, "run_1", response.Runs[0].RunID)
}

func TestGetRecentRunsBadLimit(t *testing.T) {
	router, _, _ := setupRouter(t)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Method:   "GET",
		Route:    "/settlements/runs?limit=0",
		Router:   router,
		Response: &response,
		Header:   authHeader(),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
