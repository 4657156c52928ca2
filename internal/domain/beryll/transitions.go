package beryll

import (
	"fmt"
	"net/http"

	"github.com/kryptonit/mes-backend/internal/platform/apierr"
)

const (
	DefectNew              = "NEW"
	DefectDiagnosing       = "DIAGNOSING"
	DefectWaitingParts     = "WAITING_PARTS"
	DefectRepairing        = "REPAIRING"
	DefectSentToYadro      = "SENT_TO_YADRO"
	DefectReturned         = "RETURNED"
	DefectResolved         = "RESOLVED"
	DefectRepeated         = "REPEATED"
	DefectClosed           = "CLOSED"
	DefectPendingDiagnosis = "PENDING_DIAGNOSIS"
	DefectDiagnosed        = "DIAGNOSED"
	DefectWaitingApproval  = "WAITING_APPROVAL"
	DefectPartsReserved    = "PARTS_RESERVED"
	DefectRepairedLocally  = "REPAIRED_LOCALLY"
	DefectInYadroRepair    = "IN_YADRO_REPAIR"
	DefectSubstituteIssued = "SUBSTITUTE_ISSUED"
	DefectScrapped         = "SCRAPPED"
	DefectCancelled        = "CANCELLED"
)

type StatusLabel struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var DefectStatuses = []StatusLabel{
	{DefectNew, "Новый"},
	{DefectDiagnosing, "Диагностика"},
	{DefectWaitingParts, "Ожидание запчастей"},
	{DefectRepairing, "Ремонт"},
	{DefectSentToYadro, "Отправлен в Ядро"},
	{DefectReturned, "Возвращён из Ядро"},
	{DefectResolved, "Решён"},
	{DefectRepeated, "Повторный брак"},
	{DefectClosed, "Закрыт"},
	{DefectPendingDiagnosis, "Ожидает диагностики"},
	{DefectDiagnosed, "Диагностирован"},
	{DefectWaitingApproval, "Ожидание согласования"},
	{DefectPartsReserved, "Запчасти зарезервированы"},
	{DefectRepairedLocally, "Отремонтирован локально"},
	{DefectInYadroRepair, "В ремонте у Ядро"},
	{DefectSubstituteIssued, "Выдан подменный сервер"},
	{DefectScrapped, "Списан"},
	{DefectCancelled, "Отменён"},
}

func IsDefectStatus(s string) bool {
	for _, st := range DefectStatuses {
		if st.Value == s {
			return true
		}
	}
	return false
}

// IsInactiveDefectStatus is true for records no longer counted as open work.
func IsInactiveDefectStatus(s string) bool {
	return s == DefectResolved || s == DefectClosed
}

type Action struct {
	Action string `json:"action"`
	To     string `json:"to"`
	Label  string `json:"label"`
}

const (
	labelStartDiagnosis = "Начать диагностику"
	labelCancel         = "Отменить"
	labelStartRepair    = "Начать ремонт"
	labelSendToYadro    = "Отправить в Ядро"
	labelScrap          = "Списать"
	labelReturned       = "Получено из Ядро"
	labelSubstitute     = "Выдать подменный сервер"
	labelReserveParts   = "Зарезервировать запчасти"
	labelClose          = "Закрыть"
)

var defectTransitions = map[string][]Action{
	DefectNew: {
		{"start_diagnosis", DefectDiagnosing, labelStartDiagnosis},
		{"cancel", DefectCancelled, labelCancel},
	},
	DefectDiagnosing: {
		{"complete_diagnosis", DefectWaitingParts, "Завершить диагностику"},
		{"start_repair", DefectRepairing, labelStartRepair},
		{"send_to_yadro", DefectSentToYadro, labelSendToYadro},
		{"cancel", DefectCancelled, labelCancel},
	},
	DefectWaitingParts: {
		{"start_repair", DefectRepairing, labelStartRepair},
		{"send_to_yadro", DefectSentToYadro, labelSendToYadro},
		{"scrap", DefectScrapped, labelScrap},
		{"cancel", DefectCancelled, labelCancel},
	},
	DefectRepairing: {
		{"send_to_yadro", DefectSentToYadro, labelSendToYadro},
		{"resolve", DefectResolved, "Завершить ремонт"},
		{"scrap", DefectScrapped, labelScrap},
	},
	DefectSentToYadro: {
		{"return_from_yadro", DefectReturned, labelReturned},
		{"cancel", DefectCancelled, labelCancel},
	},
	DefectReturned: {
		{"start_repair", DefectRepairing, labelStartRepair},
		{"resolve", DefectResolved, "Завершить ремонт"},
		{"scrap", DefectScrapped, labelScrap},
	},
	DefectResolved: {
		{"close", DefectClosed, labelClose},
	},
	DefectRepeated: {
		{"start_diagnosis", DefectDiagnosing, labelStartDiagnosis},
		{"cancel", DefectCancelled, labelCancel},
	},
	DefectPendingDiagnosis: {
		{"start_diagnosis", DefectDiagnosing, labelStartDiagnosis},
		{"mark_diagnosed", DefectDiagnosed, "Диагноз подтверждён"},
		{"cancel", DefectCancelled, labelCancel},
	},
	DefectDiagnosed: {
		{"request_approval", DefectWaitingApproval, "Ожидать одобрения"},
		{"reserve_parts", DefectPartsReserved, labelReserveParts},
		{"start_repair", DefectRepairing, labelStartRepair},
		{"send_to_yadro", DefectInYadroRepair, labelSendToYadro},
		{"scrap", DefectScrapped, labelScrap},
		{"cancel", DefectCancelled, labelCancel},
	},
	DefectWaitingApproval: {
		{"reserve_parts", DefectPartsReserved, labelReserveParts},
		{"cancel", DefectCancelled, labelCancel},
	},
	DefectPartsReserved: {
		{"start_repair", DefectRepairing, labelStartRepair},
		{"send_to_yadro", DefectInYadroRepair, labelSendToYadro},
		{"issue_substitute", DefectSubstituteIssued, labelSubstitute},
		{"scrap", DefectScrapped, labelScrap},
	},
	DefectRepairedLocally: {
		{"resolve", DefectResolved, "Завершить"},
		{"close", DefectClosed, labelClose},
	},
	DefectInYadroRepair: {
		{"return_from_yadro", DefectReturned, labelReturned},
		{"issue_substitute", DefectSubstituteIssued, labelSubstitute},
	},
	DefectSubstituteIssued: {
		{"return_substitute", DefectRepairing, "Вернуть подменный сервер"},
		{"close", DefectClosed, labelClose},
	},
	DefectScrapped:  {},
	DefectCancelled: {},
	DefectClosed:    {},
}

// AvailableActions lists the workflow steps open from status. Unknown and
// terminal statuses yield an empty list.
func AvailableActions(status string) []Action {
	actions := defectTransitions[status]
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, a := range defectTransitions[from] {
		if a.To == to {
			return true
		}
	}
	return false
}

func AssertTransition(from, to string) error {
	if CanTransition(from, to) {
		return nil
	}
	return apierr.New(http.StatusBadRequest, "invalid_transition",
		fmt.Errorf("Невозможно перейти из статуса %s в %s", from, to))
}
