package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"gapwatch/internal/monitor"
	"gapwatch/internal/state"
)

// SimulateAlert 使用给定的现货/隐含价格走一遍告警流程, 不访问交易所也不写状态文件。
func (a *App) SimulateAlert(ctx context.Context, reference, implied decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	mon, err := monitor.New(a.monitorOptions(), monitor.Deps{
		Spot:     a.newSpotChain(),
		State:    a.newStateStore(),
		Notifier: notifier,
	}, a.Logger)
	if err != nil {
		return err
	}

	gap := monitor.ComputeGap(reference, implied, mon.Threshold())
	if !gap.IsOpportunity {
		a.Logger.Warn().Str("gap", gap.USD.String()).Str("threshold", mon.Threshold().String()).Msg("模拟价差未超过阈值, 仍发送测试告警")
	}

	mon.Alert(ctx, state.GapObservation{
		Timestamp:      time.Now().UTC(),
		ReferencePrice: reference,
		ImpliedPrice:   implied,
		GapUSD:         gap.USD,
		Direction:      gap.Direction,
		IsOpportunity:  gap.IsOpportunity,
	}, "(simulated)")
	return nil
}
