package bot

// EngineStatus состояние оркестратора
type EngineStatus string

const (
	StateIdle         EngineStatus = "idle"
	StateEvaluating   EngineStatus = "evaluating"
	StateRiskChecking EngineStatus = "risk_checking"
	StateExecuting    EngineStatus = "executing"
	StateSettling     EngineStatus = "settling"
	StateHalted       EngineStatus = "halted"
)

var allStates = []EngineStatus{
	StateIdle,
	StateEvaluating,
	StateRiskChecking,
	StateExecuting,
	StateSettling,
	StateHalted,
}

// ValidTransitions определяет допустимые переходы между состояниями
//
// В Halted можно попасть из любого состояния, выйти - только через Resume.
var ValidTransitions = map[EngineStatus][]EngineStatus{
	StateIdle:         {StateEvaluating, StateHalted},
	StateEvaluating:   {StateRiskChecking, StateIdle, StateHalted}, // Idle если нет данных
	StateRiskChecking: {StateExecuting, StateIdle, StateHalted},    // Idle при отказе
	StateExecuting:    {StateSettling, StateIdle, StateHalted},     // Idle если ордер не создан
	StateSettling:     {StateIdle, StateHalted},
	StateHalted:       {StateIdle}, // только Resume
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to EngineStatus) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для API
func StateInfo(s EngineStatus) string {
	switch s {
	case StateIdle:
		return "Ожидание следующего цикла"
	case StateEvaluating:
		return "Оценка стратегии..."
	case StateRiskChecking:
		return "Проверка лимитов риска..."
	case StateExecuting:
		return "Исполнение ордера..."
	case StateSettling:
		return "Применение исполнений и запись аудита..."
	case StateHalted:
		return "Остановлен! Требуется Resume"
	default:
		return "Неизвестное состояние"
	}
}

// InCycle true пока идёт торговый цикл
func InCycle(s EngineStatus) bool {
	return s == StateEvaluating || s == StateRiskChecking || s == StateExecuting || s == StateSettling
}
