package process_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"visionedge/internal/process"
	"visionedge/internal/testsupport"
)

func TestExecLauncherRunsRealCommand(t *testing.T) {
	testsupport.NewConfig(t, testsupport.WithStubbedBinaries(map[string]string{
		"fake-pipeline": `echo "url=$1"; sleep 30`,
	}))

	var mu sync.Mutex
	var out strings.Builder
	sup, err := process.New(process.Spec{
		Name:         "detection",
		Command:      "fake-pipeline",
		Args:         []string{"{url}"},
		RestartDelay: time.Hour,
		GracePeriod:  time.Second,
		NewConsumer: func(uint64) process.Consumer {
			return process.ConsumerFunc(func(b []byte) {
				mu.Lock()
				defer mu.Unlock()
				out.Write(b)
			})
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Start("rtsp://x"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "stdout", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(out.String(), "url=rtsp://x")
	})
	sup.Stop()
	sup.Wait()
	if st := sup.Status(); st.RestartPending || st.State != "stopped" {
		t.Fatalf("unexpected status after stop: %+v", st)
	}
}
