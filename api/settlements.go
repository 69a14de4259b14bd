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
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adspacehq/adspace/internal/apierror"
)

// TriggerSettlement runs a full settlement cycle and reports its stats. With
// ?async=true the run is queued for the workers instead, and the task id
// keeps a queued run from being queued twice. A synchronous run already in
// flight maps to a conflict response.
func (a Api) TriggerSettlement(c *gin.Context) {
	if c.Query("async") == "true" {
		runID, err := a.adspace.EnqueueSettlement()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"success":   true,
			"timestamp": time.Now().Format(time.RFC3339),
			"run_id":    runID,
			"queued":    true,
		})
		return
	}

	run, err := a.adspace.RunSettlement(c.Request.Context())
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok {
			c.JSON(apierror.MapErrorToHTTPStatus(apiErr), gin.H{"error": apiErr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"timestamp": time.Now().Format(time.RFC3339),
		"run_id":    run.RunID,
		"stats":     run.Stats,
	})
}

// GetRecentRuns lists the most recent settlement run audit records.
func (a Api) GetRecentRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a number between 1 and 100"})
			return
		}
		limit = parsed
	}

	runs, err := a.adspace.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok {
			c.JSON(apierror.MapErrorToHTTPStatus(apiErr), gin.H{"error": apiErr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
