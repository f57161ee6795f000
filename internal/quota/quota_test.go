package quota

import (
	"testing"
	"time"
)

func TestUsageMath(t *testing.T) {
	u := Usage{Used: 750, Quota: 1000}

	if u.Available() != 250 {
		t.Errorf("expected 250 available, got %d", u.Available())
	}
	if u.Percentage() != 75 {
		t.Errorf("expected 75%%, got %f", u.Percentage())
	}
	if u.Unlimited() {
		t.Error("a reported quota is not unlimited")
	}

	over := Usage{Used: 1200, Quota: 1000}
	if over.Available() != 0 {
		t.Errorf("overfull usage should report 0 available, got %d", over.Available())
	}

	none := Usage{}
	if !none.Unlimited() {
		t.Error("zero quota means no guardrail")
	}
	if none.Percentage() != 0 {
		t.Errorf("unlimited usage should report 0%%, got %f", none.Percentage())
	}
}

type countingEstimator struct {
	calls int
	usage Usage
}

func (c *countingEstimator) Estimate() (Usage, error) {
	c.calls++
	return c.usage, nil
}

func TestCachedEstimator(t *testing.T) {
	inner := &countingEstimator{usage: Usage{Used: 10, Quota: 100}}
	cached := NewCachedEstimator(inner, time.Minute)

	for i := 0; i < 5; i++ {
		usage, err := cached.Estimate()
		if err != nil {
			t.Fatalf("Estimate failed: %v", err)
		}
		if usage.Quota != 100 {
			t.Errorf("unexpected usage: %+v", usage)
		}
	}

	if inner.calls != 1 {
		t.Errorf("expected 1 underlying call within the TTL, got %d", inner.calls)
	}
}

func TestDiskEstimator(t *testing.T) {
	usage, err := NewDiskEstimator(t.TempDir()).Estimate()
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if !usage.Unlimited() && usage.Used > usage.Quota {
		t.Errorf("used exceeds quota: %+v", usage)
	}
}
