package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kong/pg-route-client/pkg/pool"
)

func (ac *appContext) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", ac.getHealth).Methods("GET")
	r.HandleFunc("/dbhealth", ac.getDBHealth).Methods("GET")
	r.HandleFunc("/poolstats", ac.getPoolStats).Methods("GET")
	r.HandleFunc("/ropoolstats", ac.getROPoolStats).Methods("GET")
	r.HandleFunc("/stats", ac.getStats).Methods("GET")
	r.HandleFunc("/stats/reset", ac.resetStats).Methods("POST")
	r.HandleFunc("/loglevel/{level}", ac.setLogLevel).Methods("PUT")
	return r
}

func (ac *appContext) setLogLevel(w http.ResponseWriter, r *http.Request) {
	level := mux.Vars(r)["level"]
	if err := SetLevel(level); err != nil {
		ac.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	err := ac.writeJSON(w, http.StatusOK, envelope{"logLevel": level}, nil)
	if err != nil {
		ac.logError(err)
	}
}

func (ac *appContext) getHealth(w http.ResponseWriter, _ *http.Request) {
	err := ac.writeJSON(w, http.StatusOK, envelope{"status": "ok"}, nil)
	if err != nil {
		ac.logError(err)
	}
}

func (ac *appContext) getDBHealth(w http.ResponseWriter, _ *http.Request) {
	err := ac.writeJSON(w, http.StatusOK, envelope{"pools": ac.Manager.Health()}, nil)
	if err != nil {
		ac.logError(err)
	}
}

func (ac *appContext) getPoolStats(w http.ResponseWriter, _ *http.Request) {
	stats := ac.Manager.PoolStats(pool.RolePrimary)
	err := ac.writeJSON(w, http.StatusOK, envelope{"connectionPoolStats": stats}, nil)
	if err != nil {
		ac.logError(err)
	}
}

func (ac *appContext) getROPoolStats(w http.ResponseWriter, _ *http.Request) {
	stats := ac.Manager.PoolStats(pool.RoleReplica)
	err := ac.writeJSON(w, http.StatusOK, envelope{"roConnectionPoolStats": stats}, nil)
	if err != nil {
		ac.logError(err)
	}
}

func (ac *appContext) getStats(w http.ResponseWriter, _ *http.Request) {
	err := ac.writeJSON(w, http.StatusOK, envelope{"stats": ac.Manager.Stats()}, nil)
	if err != nil {
		ac.logError(err)
	}
}

func (ac *appContext) resetStats(w http.ResponseWriter, _ *http.Request) {
	ac.Manager.ResetStats()
	err := ac.writeJSON(w, http.StatusOK, envelope{"status": "reset"}, nil)
	if err != nil {
		ac.logError(err)
	}
}
