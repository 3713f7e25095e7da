package app

// registerRoutes sets up all HTTP handlers for the application.
func (a *App) registerRoutes() {
	// read API
	a.Mux.HandleFunc("GET /api/motors", a.handleMotors)
	a.Mux.HandleFunc("GET /api/motors/{id}", a.handleMotor)
	a.Mux.HandleFunc("GET /api/system", a.handleSystem)
	a.Mux.HandleFunc("GET /api/health", a.handleHealth)
	a.Mux.HandleFunc("GET /api/history/{id}/{metric}", a.handleHistory)
	a.Mux.HandleFunc("GET /api/log", a.handleLog)

	// single motor commands
	a.Mux.HandleFunc("POST /api/motors/{id}/start", a.handleStart)
	a.Mux.HandleFunc("POST /api/motors/{id}/stop", a.handleStop)
	a.Mux.HandleFunc("POST /api/motors/{id}/speed", a.handleSpeed)
	a.Mux.HandleFunc("POST /api/motors/{id}/direction", a.handleDirection)
	a.Mux.HandleFunc("POST /api/motors/{id}/clear-jam", a.handleClearJam)
	a.Mux.HandleFunc("POST /api/aux/{token}", a.handleAux)

	// composite operations
	a.Mux.HandleFunc("POST /api/mode/{mode}", a.handleMode)
	a.Mux.HandleFunc("POST /api/both/start", a.handleStartBoth)
	a.Mux.HandleFunc("POST /api/both/stop", a.handleStopBoth)
	a.Mux.HandleFunc("POST /api/emergency-stop", a.handleEmergencyStop)

	// live stream
	a.Mux.HandleFunc("GET /ws", a.handleWS)
}
