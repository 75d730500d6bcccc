package localsim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DhananjayPurohit/paygress/pkg/container"
)

func TestCreateAndStatus(t *testing.T) {
	d := New()
	h, err := d.Create(context.Background(), container.CreateRequest{
		Image:               "paygress/ssh-box:latest",
		HostPort:            30000,
		InitialDeadlineSecs: 60,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	st, err := d.Status(context.Background(), h)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !st.Exists || st.Phase != container.PhaseRunning {
		t.Errorf("Status() = %+v, want exists+running", st)
	}
}

func TestCreateRejectsEmptyImage(t *testing.T) {
	d := New()
	_, err := d.Create(context.Background(), container.CreateRequest{InitialDeadlineSecs: 60})
	if !errors.Is(err, container.ErrImagePullFailed) {
		t.Fatalf("err = %v, want ErrImagePullFailed", err)
	}
}

func TestDeadlineTerminatesWithoutServiceIntervention(t *testing.T) {
	d := New()
	h, err := d.Create(context.Background(), container.CreateRequest{
		Image:               "img",
		InitialDeadlineSecs: 0,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		st, err := d.Status(context.Background(), h)
		if err != nil {
			t.Fatalf("Status() error: %v", err)
		}
		if st.Phase == container.PhaseTerminated {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("container did not terminate on its own after deadline elapsed")
}

func TestDeleteIsIdempotent(t *testing.T) {
	d := New()
	h, err := d.Create(context.Background(), container.CreateRequest{Image: "img", InitialDeadlineSecs: 60})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := d.Delete(context.Background(), h); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := d.Delete(context.Background(), h); err != nil {
		t.Fatalf("second Delete() error: %v", err)
	}

	st, err := d.Status(context.Background(), h)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if st.Exists {
		t.Error("expected deleted handle to not exist")
	}
}

func TestExtendOnDeletedHandleIsNotFound(t *testing.T) {
	d := New()
	h, err := d.Create(context.Background(), container.CreateRequest{Image: "img", InitialDeadlineSecs: 60})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := d.Delete(context.Background(), h); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	err = d.Extend(context.Background(), h, 120)
	if !errors.Is(err, container.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFailNextCreateHook(t *testing.T) {
	d := New()
	d.FailNextCreate = container.ErrResourceUnavailable

	_, err := d.Create(context.Background(), container.CreateRequest{Image: "img", InitialDeadlineSecs: 60})
	if !errors.Is(err, container.ErrResourceUnavailable) {
		t.Fatalf("err = %v, want ErrResourceUnavailable", err)
	}

	// hook is consumed; the next call should succeed.
	if _, err := d.Create(context.Background(), container.CreateRequest{Image: "img", InitialDeadlineSecs: 60}); err != nil {
		t.Fatalf("second Create() error: %v", err)
	}
}
