package ve

import "testing"

func sampleAt(rpm, mapKPa, afrCmd, afrMeas float64) LogSample {
	return LogSample{
		RPM:      Some(rpm),
		MAPKPa:   Some(mapKPa),
		AFRCmdF:  Some(afrCmd),
		AFRMeasF: Some(afrMeas),
	}
}

func TestAggregate_AcceptsWellFormedSample(t *testing.T) {
	g := testGrid(t)
	cfg := DefaultConfig()
	samples := []LogSample{sampleAt(1000, 20, 14.7, 15.0)}
	stats, report := Aggregate(g, samples, Front, cfg)
	if report.Accepted != 1 {
		t.Errorf("expected 1 accepted sample, got %d", report.Accepted)
	}
	cell := stats.At(0, 0)
	if cell.HitCount != 1 {
		t.Errorf("expected hit count 1, got %d", cell.HitCount)
	}
	want := 15.0 - 14.7
	if got := cell.MeanAFRError(); absFloat(got-want) > 1e-9 {
		t.Errorf("expected mean AFR error %v, got %v", want, got)
	}
}

func TestAggregate_RejectsMissingFields(t *testing.T) {
	g := testGrid(t)
	cfg := DefaultConfig()
	samples := []LogSample{
		{RPM: Some(1000.0)}, // missing MAP
		{RPM: Some(1000.0), MAPKPa: Some(20.0)}, // missing AFR
	}
	_, report := Aggregate(g, samples, Front, cfg)
	if report.MissingRPMOrMAP != 1 {
		t.Errorf("expected 1 sample missing RPM/MAP, got %d", report.MissingRPMOrMAP)
	}
	if report.MissingAFR != 1 {
		t.Errorf("expected 1 sample missing AFR, got %d", report.MissingAFR)
	}
	if report.Accepted != 0 {
		t.Errorf("expected 0 accepted samples, got %d", report.Accepted)
	}
}

func TestAggregate_RejectsOutOfRangeAFRAndMAP(t *testing.T) {
	g := testGrid(t)
	cfg := DefaultConfig()
	samples := []LogSample{
		sampleAt(1000, 20, 14.7, 99), // AFR way out of range
		sampleAt(1000, 9999, 14.7, 15.0), // MAP out of range
	}
	_, report := Aggregate(g, samples, Front, cfg)
	if report.AFRMeasOutOfRange != 1 {
		t.Errorf("expected 1 AFR-out-of-range rejection, got %d", report.AFRMeasOutOfRange)
	}
	if report.MAPOutOfRange != 1 {
		t.Errorf("expected 1 MAP-out-of-range rejection, got %d", report.MAPOutOfRange)
	}
}

func TestAggregate_SeparatesFrontAndRear(t *testing.T) {
	g := testGrid(t)
	cfg := DefaultConfig()
	samples := []LogSample{
		{
			RPM: Some(1000.0), MAPKPa: Some(20.0),
			AFRCmdF: Some(14.0), AFRMeasF: Some(15.0),
			AFRCmdR: Some(14.0), AFRMeasR: Some(13.0),
		},
	}
	frontStats, _ := Aggregate(g, samples, Front, cfg)
	rearStats, _ := Aggregate(g, samples, Rear, cfg)
	if got := frontStats.At(0, 0).MeanAFRError(); got != 1.0 {
		t.Errorf("expected front mean AFR error 1.0, got %v", got)
	}
	if got := rearStats.At(0, 0).MeanAFRError(); got != -1.0 {
		t.Errorf("expected rear mean AFR error -1.0, got %v", got)
	}
}

func TestAggregate_MedianIsOrderIndependent(t *testing.T) {
	g := testGrid(t)
	cfg := DefaultConfig()
	samples := []LogSample{
		sampleAt(1000, 20, 14.0, 16.0),
		sampleAt(1000, 20, 14.0, 14.0),
		sampleAt(1000, 20, 14.0, 15.0),
	}
	stats, _ := Aggregate(g, samples, Front, cfg)
	cell := stats.At(0, 0)
	if cell.MedianAFRMeas() != 15.0 {
		t.Errorf("expected median measured AFR 15.0, got %v", cell.MedianAFRMeas())
	}
}
