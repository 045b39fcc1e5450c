package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/notification"
	"github.com/trezcool/karani/core/user"
)

func TestRollbarLogger_MirrorsToStd(t *testing.T) {
	var buf bytes.Buffer
	logger := NewRollbarLogger(log.New(&buf, "", 0), core.NewTestConfig())

	usr := user.User{ID: 3, Username: "suzuki"}
	logger.Warn("issuance 7: dropped line", errors.New("unknown certificate type"), usr)

	out := buf.String()
	assert.Contains(t, out, "issuance 7: dropped line\n")
	assert.Contains(t, out, "unknown certificate type")
	assert.Contains(t, out, "suzuki")
}

func TestRollbarLogger_Prepare(t *testing.T) {
	logger := NewRollbarLogger(log.New(&bytes.Buffer{}, "", 0), core.NewTestConfig())
	extra := map[string]interface{}{"issuance": 7}
	err := errors.New("boom")

	args := logger.prepare("msg", []interface{}{err, user.User{ID: 1}, extra, user.User{ID: 2}})
	assert.Equal(t, []interface{}{"msg", err, extra}, args)
}

func TestRollbarLogger_PrepareWorkflowFields(t *testing.T) {
	logger := NewRollbarLogger(log.New(&bytes.Buffer{}, "", 0), core.NewTestConfig())
	stepErr := errors.Wrap(core.NewStepError("notify student", errors.New("boom")), "approving")

	tests := []struct {
		name string
		args []interface{}
		want []interface{}
	}{
		{
			name: "step error on a certificate",
			args: []interface{}{stepErr, notification.Certificate(7)},
			want: []interface{}{"msg", stepErr, map[string]interface{}{
				"step": "notify student", "status_written": true,
				"subject": "certificate:7", "subject_path": "certificates/7",
			}},
		},
		{
			name: "job search subject merged with extras",
			args: []interface{}{notification.JobSearch(3), map[string]interface{}{"action": 1}},
			want: []interface{}{"msg", map[string]interface{}{
				"action": 1, "subject": "job_search:3", "subject_path": "job-searches/3",
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logger.prepare("msg", tt.args))
		})
	}

	plain := errors.New("plain")
	assert.Equal(t, []interface{}{"msg", plain}, logger.prepare("msg", []interface{}{plain}), "no custom fields")
}
