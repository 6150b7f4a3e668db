package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	logx "pulse/pkg/logx"
)

func openTest(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulsed.db")
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			t.Run("runs", func(t *testing.T) { testRuns(t, openTest(t, driver)) })
			t.Run("dedup", func(t *testing.T) { testDedup(t, openTest(t, driver)) })
		})
	}
}

func testRuns(t *testing.T, st Store) {
	g := NewWithT(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000).UTC()

	for i := 0; i < 5; i++ {
		r := RunRecord{
			Pulse:     "hb",
			ID:        uint64(i),
			Started:   base.Add(time.Duration(i) * time.Second),
			Ended:     base.Add(time.Duration(i)*time.Second + 20*time.Millisecond),
			RuntimeMS: 20,
			Result:    `{"ok":true}`,
		}
		if i == 3 {
			r.Result = ""
			r.Error = "exit status 1"
			r.Warnings = []string{"stderr: oops"}
		}
		g.Expect(st.AppendRun(ctx, r)).To(Succeed())
		g.Expect(st.AppendRun(ctx, RunRecord{Pulse: "other", ID: uint64(i), Started: base, Ended: base})).To(Succeed())
	}

	runs, err := st.RecentRuns(ctx, "hb", 3)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(runs).To(HaveLen(3))
	g.Expect([]uint64{runs[0].ID, runs[1].ID, runs[2].ID}).To(Equal([]uint64{4, 3, 2}))

	failed := runs[1]
	g.Expect(failed.OK()).To(BeFalse())
	g.Expect(failed.Error).To(Equal("exit status 1"))
	g.Expect(failed.Warnings).To(Equal([]string{"stderr: oops"}))
	g.Expect(failed.Started.Equal(base.Add(3 * time.Second))).To(BeTrue())
	g.Expect(runs[0].Result).To(Equal(`{"ok":true}`))
	g.Expect(runs[0].RuntimeMS).To(BeEquivalentTo(20))

	all, err := st.RecentRuns(ctx, "hb", 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(all).To(HaveLen(5))

	none, err := st.RecentRuns(ctx, "missing", 10)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(none).To(BeEmpty())
}

func testDedup(t *testing.T, st Store) {
	g := NewWithT(t)
	ctx := context.Background()
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	_, ok, err := st.GetDedup(ctx, "pulse.error:hb")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeFalse())

	g.Expect(st.PutDedup(ctx, "pulse.error:hb", until)).To(Succeed())
	g.Expect(st.PutDedup(ctx, "", until)).To(Succeed())

	got, ok, err := st.GetDedup(ctx, "pulse.error:hb")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	g.Expect(got.Equal(until)).To(BeTrue())
}

func TestFileDedupSurvivesReopen(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(st.PutDedup(ctx, "live", until)).To(Succeed())
	g.Expect(st.PutDedup(ctx, "expired", time.Now().Add(-time.Minute))).To(Succeed())
	g.Expect(st.AppendRun(ctx, RunRecord{Pulse: "p", ID: 7})).To(Succeed())
	g.Expect(st.Close()).To(Succeed())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	g.Expect(err).NotTo(HaveOccurred())
	defer st.Close()

	_, ok, _ := st.GetDedup(ctx, "live")
	g.Expect(ok).To(BeTrue())
	_, ok, _ = st.GetDedup(ctx, "expired")
	g.Expect(ok).To(BeFalse())

	runs, err := st.RecentRuns(ctx, "p", 5)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(runs).To(HaveLen(1))
	g.Expect(runs[0].ID).To(BeEquivalentTo(7))
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want disabled", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path must fail")
	}
}
