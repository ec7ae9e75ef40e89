package vm

import "testing"

func TestProfilerHotFiresOnce(t *testing.T) {
	p := NewProfiler(3)
	var fired []string
	p.OnHot = func(qualname string, count uint64) {
		fired = append(fired, qualname)
		if count != 3 {
			t.Errorf("hook count = %d, want 3", count)
		}
	}

	for i := 0; i < 5; i++ {
		hot := p.RecordCall("f")
		if hot != (i == 2) {
			t.Errorf("call %d: hot = %v", i+1, hot)
		}
	}
	if len(fired) != 1 || fired[0] != "f" {
		t.Errorf("hook fired %v", fired)
	}
	if p.Count("f") != 5 {
		t.Errorf("count = %d", p.Count("f"))
	}
}

func TestProfilerCountUnknown(t *testing.T) {
	p := NewProfiler(10)
	if p.Count("never") != 0 {
		t.Error("unknown function has a count")
	}
}

func TestProfilerReportOrder(t *testing.T) {
	p := NewProfiler(2)
	for i := 0; i < 3; i++ {
		p.RecordCall("busy")
	}
	p.RecordCall("idle")
	p.RecordCall("also_idle")

	report := p.Report()
	if len(report) != 3 {
		t.Fatalf("report has %d rows", len(report))
	}
	if report[0].Qualname != "busy" || report[0].Count != 3 || !report[0].Hot {
		t.Errorf("row 0 = %+v", report[0])
	}
	// Ties order by name.
	if report[1].Qualname != "also_idle" || report[2].Qualname != "idle" {
		t.Errorf("tie order: %s, %s", report[1].Qualname, report[2].Qualname)
	}
	if report[1].Hot || report[2].Hot {
		t.Error("cold functions reported hot")
	}
}
