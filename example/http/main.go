package main

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	beacon "github.com/beaconhq/beacon-go"
	beaconhttp "github.com/beaconhq/beacon-go/http"
	beaconlogrus "github.com/beaconhq/beacon-go/logrus"
	beaconprometheus "github.com/beaconhq/beacon-go/prometheus"
)

func run() error {
	// The API key is read from BEACON_API_KEY. Without one, payloads are
	// dropped by a stub backend.
	dispatcher, err := beacon.NewDispatcher(beacon.ClientOptions{
		Environment: "development",
		Debug:       true,
	})
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	logger := logrus.New()
	logger.AddHook(beaconlogrus.New(nil, dispatcher))

	if _, err := beaconprometheus.Register(prometheus.DefaultRegisterer, dispatcher); err != nil {
		return err
	}

	handler := beaconhttp.New(beaconhttp.Options{
		Dispatcher:    dispatcher,
		Repanic:       true,
		TraceRequests: true,
		Tags:          map[string]string{"service": "example"},
	})

	http.Handle("/", handler.HandleFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		dispatcher.Event(r.Context(), "page_view", map[string]interface{}{"path": r.URL.Path})
		dispatcher.Timing("page.render", float64(time.Since(start).Milliseconds()))
		_, _ = w.Write([]byte("ok\n"))
	}))
	http.Handle("/error", handler.HandleFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.WithError(errors.New("something went wrong")).Error("request failed")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	http.Handle("/panic", handler.HandleFunc(func(http.ResponseWriter, *http.Request) {
		panic("y tho")
	}))
	http.Handle("/metrics", promhttp.Handler())

	log.Println("Listening and serving HTTP on :3000")
	return http.ListenAndServe(":3000", nil)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
