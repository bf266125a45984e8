package trainer

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Status is the live view of training progress exposed over HTTP.
type Status struct {
	NumStepsDone   int     `json:"num_steps_done"`
	NumUpdatesDone int     `json:"num_updates_done"`
	PercentDone    float64 `json:"percent_done"`
	FPS            float64 `json:"fps"`
	Reward         float64 `json:"reward"`
}

// serveStatus exposes the trainer's progress on a small HTTP endpoint. The
// snapshot is refreshed once per update, so the handler never touches loop
// state directly.
func (t *Trainer) serveStatus(addr string) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/status", func(c *gin.Context) {
		t.statusMu.Lock()
		s := t.status
		t.statusMu.Unlock()
		c.JSON(http.StatusOK, s)
	})
	go func() {
		if err := router.Run(addr); err != nil {
			t.log.Errorw("status server stopped", "err", err)
		}
	}()
}
