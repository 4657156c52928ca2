package beryll

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kryptonit/mes-backend/internal/platform/apierr"
)

func TestAvailableActions(t *testing.T) {
	got := AvailableActions(DefectRepairing)
	want := []Action{
		{"send_to_yadro", DefectSentToYadro, "Отправить в Ядро"},
		{"resolve", DefectResolved, "Завершить ремонт"},
		{"scrap", DefectScrapped, "Списать"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("AvailableActions(REPAIRING) mismatch (-want +got):\n%s", diff)
	}

	for _, terminal := range []string{DefectScrapped, DefectCancelled, DefectClosed, "BOGUS"} {
		if n := len(AvailableActions(terminal)); n != 0 {
			t.Fatalf("AvailableActions(%s) = %d actions, want 0", terminal, n)
		}
	}
}

func TestAvailableActionsReturnsCopy(t *testing.T) {
	got := AvailableActions(DefectNew)
	got[0].To = DefectClosed
	if AvailableActions(DefectNew)[0].To != DefectDiagnosing {
		t.Fatalf("mutating the result must not change the transition table")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{DefectNew, DefectNew, true},
		{DefectNew, DefectDiagnosing, true},
		{DefectNew, DefectResolved, false},
		{DefectDiagnosing, DefectWaitingParts, true},
		{DefectWaitingParts, DefectScrapped, true},
		{DefectSentToYadro, DefectReturned, true},
		{DefectSentToYadro, DefectResolved, false},
		{DefectReturned, DefectResolved, true},
		{DefectResolved, DefectClosed, true},
		{DefectResolved, DefectRepairing, false},
		{DefectDiagnosed, DefectInYadroRepair, true},
		{DefectDiagnosed, DefectSentToYadro, false},
		{DefectPartsReserved, DefectSubstituteIssued, true},
		{DefectSubstituteIssued, DefectRepairing, true},
		{DefectClosed, DefectNew, false},
		{DefectCancelled, DefectDiagnosing, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestAssertTransition(t *testing.T) {
	if err := AssertTransition(DefectRepairing, DefectResolved); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := AssertTransition(DefectClosed, DefectRepairing)
	if err == nil {
		t.Fatalf("expected error")
	}
	if apierr.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", apierr.StatusOf(err))
	}
	want := "Невозможно перейти из статуса CLOSED в REPAIRING"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestEveryTargetIsKnownStatus(t *testing.T) {
	for from, actions := range defectTransitions {
		if !IsDefectStatus(from) {
			t.Errorf("transition table key %s is not a known status", from)
		}
		for _, a := range actions {
			if !IsDefectStatus(a.To) {
				t.Errorf("%s --%s--> %s targets an unknown status", from, a.Action, a.To)
			}
		}
	}
}
