// Command powerctl is the control-core boot sequence: load configuration,
// construct every subsystem provider, and run the DPL/grid-charger tick
// loops under one errgroup until a signal or an unrecoverable worker error
// arrives. Adapted from the teacher's main.go worker-wiring shape —
// goroutine-per-subsystem, clean shutdown on SIGINT/SIGTERM —
// generalized onto this system's subsystem set and supervised with
// golang.org/x/sync/errgroup instead of the teacher's hand-rolled SafeGo.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ryansname/powerctl/internal/battery"
	batteryprovider "github.com/ryansname/powerctl/internal/battery/provider"
	"github.com/ryansname/powerctl/internal/config"
	"github.com/ryansname/powerctl/internal/console"
	"github.com/ryansname/powerctl/internal/datapoint"
	"github.com/ryansname/powerctl/internal/dpl"
	"github.com/ryansname/powerctl/internal/gridcharger/huawei"
	"github.com/ryansname/powerctl/internal/hwif"
	"github.com/ryansname/powerctl/internal/limiter"
	"github.com/ryansname/powerctl/internal/mqttbus"
	"github.com/ryansname/powerctl/internal/powermeter"
	powermeterprovider "github.com/ryansname/powerctl/internal/powermeter/provider"
	"github.com/ryansname/powerctl/internal/provider"
	"github.com/ryansname/powerctl/internal/serialport"
	"github.com/ryansname/powerctl/internal/solarcharger"
	"github.com/ryansname/powerctl/internal/uptime"
)

func main() {
	configPath := flag.String("config", "powerctl.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file loaded", "err", err)
	}

	lc, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	store := config.NewStore(*configPath, lc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	mqttClient := mqttbus.NewClient(mqttbus.Config{
		Broker:   lc.Config.MQTT.Broker,
		ClientID: lc.Config.MQTT.ClientID,
		Username: os.Getenv("MQTT_USERNAME"),
		Password: os.Getenv("MQTT_PASSWORD"),
	}, nil)
	if err := mqttClient.Connect(); err != nil {
		logger.Error("mqtt connect failed, continuing offline", "err", err)
	}
	defer mqttClient.Disconnect()

	ports := serialport.NewManager()

	meterCtrl := provider.NewController(powermeter.DummyStats)
	meterCtrl.UpdateSettings(func() (provider.Provider[powermeter.Stats], bool) {
		if lc.Config.Providers.Meter.Topic == "" {
			return nil, false
		}
		return powermeterprovider.NewMQTT(powermeterprovider.MQTTConfig{
			Client:   mqttClient,
			Topic:    lc.Config.Providers.Meter.Topic,
			JSONPath: lc.Config.Providers.Meter.JSONPath,
		}), true
	}, false)

	batteryCtrl := provider.NewController(func() battery.Stats { return battery.Stats{} })
	batteryCtrl.UpdateSettings(func() (provider.Provider[battery.Stats], bool) {
		b := lc.Config.Providers.Battery
		if b.VoltageTopic == "" && b.SoCTopic == "" {
			return nil, false
		}
		return batteryprovider.NewMQTT(batteryprovider.MQTTConfig{
			Client:                      mqttClient,
			VoltageTopic:                b.VoltageTopic,
			CurrentTopic:                b.CurrentTopic,
			SoCTopic:                    b.SoCTopic,
			BmsDischargeLimitTopic:      b.BmsDischargeLimitTopic,
			ImmediateChargeRequestTopic: b.ImmediateChargeRequestTopic,
		}), true
	}, false)

	solarCtrl := provider.NewController(solarcharger.DummyStats)
	if instance := lc.Config.Providers.SolarCharger.Instance; instance != "" {
		if _, err := ports.AllocatePort(instance); err != nil {
			logger.Warn("solar charger serial port allocation failed", "instance", instance, "err", err)
		}
	}

	// No CAN backend exists for this deployment profile; busOff satisfies
	// hwif.Bus so the rest of the grid-charger stack wires together, ready
	// to have a real MCP2515/TWAI/socketcan Bus substituted in.
	var bus hwif.Bus = busOff{}
	charger := huawei.NewController(bus, logger)
	charger.SetBattery(&gridChargerBattery{ctrl: batteryCtrl, cfg: lc.DischargeLimit})
	charger.ConfigureAutoInt(
		lc.Config.GridCharger.TargetPowerConsumptionWatts,
		lc.Config.GridCharger.LowerBoundAmps,
		lc.Config.GridCharger.UpperBoundAmps,
		lc.Config.GridCharger.UpperPowerLimitWatts,
	)

	dplCtrl := dpl.NewController(logger, store.Snapshot().DPL)
	dplCtrl.SetInverters(inverterValues(store.Snapshot().BuildInverters()))

	g.Go(func() error {
		return runGridChargerLoop(ctx, bus, charger, meterCtrl)
	})

	g.Go(func() error {
		return runDplLoop(ctx, dplCtrl, store, meterCtrl, batteryCtrl, solarCtrl)
	})

	g.Go(func() error {
		runConsole(ctx, dplCtrl, charger, meterCtrl, batteryCtrl, solarCtrl)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutting down after worker error", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// busOff is the no-backend placeholder hwif.Bus: it accepts sends silently
// and never has anything to receive, so the controllers above stay wired
// and testable even where no physical CAN transceiver is attached.
type busOff struct{}

func (busOff) Send(hwif.Frame) error       { return nil }
func (busOff) Receive() (hwif.Frame, bool) { return hwif.Frame{}, false }

// inverterValues flattens the serial-keyed map config.BuildInverters
// returns into the slice dpl.Controller.SetInverters takes.
func inverterValues(m map[string]*limiter.Inverter) []*limiter.Inverter {
	out := make([]*limiter.Inverter, 0, len(m))
	for _, inv := range m {
		out = append(out, inv)
	}
	return out
}

// runGridChargerLoop drains the CAN bus into the charger's frame decoder and
// drives its periodic Loop/meter-update cadence. There being no real CAN
// backend yet (see busOff), Receive never returns a frame today — this is
// the integration point a real Bus plugs into.
func runGridChargerLoop(ctx context.Context, bus hwif.Bus, charger *huawei.Controller, meter *provider.Controller[powermeter.Stats]) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				f, ok := bus.Receive()
				if !ok {
					break
				}
				charger.ProcessReceived(f)
			}

			now := uptime.NowMillis()
			if watts, ok := meter.GetStats().PowerTotalWattsIfFresh(now); ok {
				charger.OnMeterUpdate(now, watts)
			}
			charger.Loop()
		}
	}
}

func runDplLoop(
	ctx context.Context,
	ctrl *dpl.Controller,
	store *config.Store,
	meter *provider.Controller[powermeter.Stats],
	bat *provider.Controller[battery.Stats],
	solar *provider.Controller[solarcharger.Stats],
) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastVersion := store.Version()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := uptime.NowMillis()
			cfg := store.Snapshot()
			reloadPending := store.Version() != lastVersion

			meterStats := meter.GetStats()
			ctrl.Tick(dpl.Inputs{
				Now:                 now,
				WallClock:           time.Now(),
				WallClockValid:      true,
				ConfigReloadPending: reloadPending,
				Reconcile:           cfg.BuildInverters,
				MeterValid:          !meterStats.IsStale(now),
				Meter:               meterStats,
				Solar:               solar.GetStats(),
				Battery:             bat.GetStats(),
			})
			lastVersion = store.Version()
		}
	}
}

func runConsole(
	ctx context.Context,
	ctrl *dpl.Controller,
	charger *huawei.Controller,
	meter *provider.Controller[powermeter.Stats],
	bat *provider.Controller[battery.Stats],
	solar *provider.Controller[solarcharger.Stats],
) {
	data := make(chan console.Snapshot, 1)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := uptime.NowMillis()
				meterStats := meter.GetStats()
				batStats := bat.GetStats()
				solarStats := solar.GetStats()

				snap := console.Snapshot{
					Text:    map[string]string{"dpl.status": ctrl.Status().String()},
					Numeric: map[string]float64{},
				}
				if watts, ok := meterStats.PowerTotalWattsIfFresh(now); ok {
					snap.Numeric["meter.power_watts"] = watts
				}
				if soc, ok := batStats.SoCIfValid(now); ok {
					snap.Numeric["battery.soc"] = soc
				}
				snap.Numeric["solar.power_watts"] = solarStats.AggregatePowerWatts(now)

				charger.Get().Export().Range(func(_ huawei.RectifierLabel, dp datapoint.DataPoint[float64]) {
					snap.Numeric["rectifier."+dp.Label()] = dp.Value()
				})

				select {
				case data <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	console.Run(runCtx, cancel, data)
}

// gridChargerBattery adapts the battery subsystem's provider + resolved
// discharge-limit config to huawei.Battery: the AC load-correction term
// huawei's own arbitration needs is a governed-inverter concept the grid
// charger's DC-side loop doesn't have, so it's assumed zero here — the
// DPL's own per-tick battery.Controller (fed by Inputs.Battery) is the one
// that applies the real AC load correction for inverter allocation.
type gridChargerBattery struct {
	ctrl *provider.Controller[battery.Stats]
	cfg  battery.Config
}

func (b *gridChargerBattery) DischargeCurrentLimitAmps() float64 {
	bc := battery.Controller{Config: b.cfg, Stats: b.ctrl.GetStats()}
	return bc.GetDischargeCurrentLimit(uptime.NowMillis(), 0)
}

func (b *gridChargerBattery) CurrentAmps() (float64, bool) {
	stats := b.ctrl.GetStats()
	if stats.LastUpdate() == 0 {
		return 0, false
	}
	return stats.CurrentAmps, true
}

func (b *gridChargerBattery) ImmediateChargingRequest() bool {
	return b.ctrl.GetStats().ImmediateChargingRequested
}
