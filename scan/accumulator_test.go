package scan

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestAccumulatorEmpty(t *testing.T) {
	var acc Accumulator
	label, avg, ok := acc.BestLabel()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, label, test.ShouldEqual, "")
	test.That(t, avg, test.ShouldEqual, 0.0)
	test.That(t, acc.Samples(), test.ShouldEqual, 0)
	test.That(t, acc.labels(), test.ShouldBeEmpty)
}

func TestAccumulatorRunningMean(t *testing.T) {
	var acc Accumulator
	acc.Record("Yield", 0.9)
	acc.Record("Stop", 0.7)
	acc.Record("Yield", 0.5)

	sum, count, ok := acc.stats("Yield")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sum, test.ShouldAlmostEqual, 1.4)
	test.That(t, count, test.ShouldEqual, 2)
	_, _, ok = acc.stats("Keep right")
	test.That(t, ok, test.ShouldBeFalse)

	label, avg, ok := acc.BestLabel()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, label, test.ShouldEqual, "Yield")
	test.That(t, avg, test.ShouldAlmostEqual, 0.7)
	test.That(t, acc.Samples(), test.ShouldEqual, 3)
	test.That(t, acc.labels(), test.ShouldResemble, []string{"Yield", "Stop"})

	acc.Reset()
	_, _, ok = acc.BestLabel()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, acc.Samples(), test.ShouldEqual, 0)
}

func TestAccumulatorTieGoesToFirstSeen(t *testing.T) {
	var acc Accumulator
	acc.Record("A", 0.5)
	acc.Record("B", 0.5)
	acc.Record("B", 0.5)
	acc.Record("A", 0.5)

	label, avg, ok := acc.BestLabel()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, label, test.ShouldEqual, "A")
	test.That(t, avg, test.ShouldEqual, 0.5)

	var reversed Accumulator
	reversed.Record("B", 0.5)
	reversed.Record("A", 0.5)
	label, _, _ = reversed.BestLabel()
	test.That(t, label, test.ShouldEqual, "B")
}

func TestAccumulatorClampsConfidence(t *testing.T) {
	var acc Accumulator
	acc.Record("Stop", -0.3)
	acc.Record("Stop", 1.7)
	acc.Record("Stop", math.NaN())
	sum, count, _ := acc.stats("Stop")
	test.That(t, sum, test.ShouldEqual, 1.0)
	test.That(t, count, test.ShouldEqual, 3)
}
