// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOPE/services/ope/bandits"
	"github.com/AleutianAI/AleutianOPE/services/ope/config"
	"github.com/AleutianAI/AleutianOPE/services/ope/slates"
)

func TestFactory_Kinds(t *testing.T) {
	var f Factory

	tests := []struct {
		kind config.Kind
		want any
	}{
		{config.KindIPS, &bandits.IPS{}},
		{config.KindSNIPS, &bandits.SNIPS{}},
		{config.KindMLE, &bandits.MLE{}},
		{config.KindCressieRead, &bandits.CressieRead{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e, err := f.BanditPoint(config.EstimatorSpec{Name: "x", Kind: tt.kind})
			require.NoError(t, err)
			assert.IsType(t, tt.want, e)
		})
	}

	iv, err := f.BanditInterval(config.EstimatorSpec{Kind: config.KindClopperPearson})
	require.NoError(t, err)
	assert.IsType(t, &bandits.ClopperPearson{}, iv)

	sp, err := f.SlatePoint(config.EstimatorSpec{Kind: config.KindPseudoInverse})
	require.NoError(t, err)
	assert.IsType(t, &slates.PseudoInverse{}, sp)

	si, err := f.SlateInterval(config.EstimatorSpec{Kind: config.KindGaussian})
	require.NoError(t, err)
	assert.IsType(t, &slates.Gaussian{}, si)

	_, err = f.BanditPoint(config.EstimatorSpec{Kind: config.KindGaussian})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, err = f.BanditInterval(config.EstimatorSpec{Kind: config.KindIPS})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, err = f.SlatePoint(config.EstimatorSpec{Kind: config.KindIPS})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	_, err = f.SlateInterval(config.EstimatorSpec{Kind: config.KindCressieRead})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestFactory_AppliesBounds(t *testing.T) {
	var f Factory
	e, err := f.BanditPoint(config.EstimatorSpec{Kind: config.KindMLE, WMax: ptr(2), RMin: ptr(-1)})
	require.NoError(t, err)
	require.NoError(t, e.AddExample(0.5, 1, 1))
	assert.Error(t, e.AddExample(0.25, 1, 1), "weight 4 exceeds wmax 2")

	_, err = f.BanditPoint(config.EstimatorSpec{Kind: config.KindCressieRead, Rho: ptr(3)})
	assert.Error(t, err, "rho 3 needs a finite wmax")
	_, err = f.BanditPoint(config.EstimatorSpec{Kind: config.KindCressieRead, Rho: ptr(3), WMax: ptr(10)})
	assert.NoError(t, err)

	_, err = f.BanditInterval(config.EstimatorSpec{Kind: config.KindCressieRead, Rho: ptr(0.5)})
	assert.Error(t, err, "interval rho 0.5 needs a finite wmax")
	iv, err := f.BanditInterval(config.EstimatorSpec{Kind: config.KindCressieRead, Rho: ptr(0.5), WMax: ptr(10)})
	require.NoError(t, err)
	require.IsType(t, &bandits.CressieReadInterval{}, iv)
}

func TestFactory_CATS(t *testing.T) {
	var f Factory
	c, err := f.CATS(nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = f.CATS(&config.CATSConfig{NumActions: 4, MinValue: 0, MaxValue: 8, Bandwidth: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 2.0, c.UnitRange())

	_, err = f.CATS(&config.CATSConfig{NumActions: 4, MinValue: 0, MaxValue: 8, Bandwidth: 5})
	assert.Error(t, err)
}

func TestDecodeBandit(t *testing.T) {
	rec, err := decodeBandit([]byte(`{"p_log":0.5,"r":1,"p_pred":0.25}`), false)
	require.NoError(t, err)
	assert.Equal(t, 0.25, *rec.PPred)

	_, err = decodeBandit([]byte(`{"a":1,"p_log":0.5,"r":1}`), true)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = decodeBandit([]byte(`[1,2]`), false)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	s, err := decodeSlate([]byte(`{"p_logs":[0.5,0.5],"r":2,"p_preds":[1,1]}`))
	require.NoError(t, err)
	assert.Len(t, s.PLogs, 2)
	require.NotNil(t, s.Reward)
	assert.Equal(t, 2.0, *s.Reward)
}

func TestDecode_RequiresReward(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		slate      bool
		continuous bool
	}{
		{name: "bandit", line: `{"p_log":0.5,"p_pred":0.25}`},
		{name: "bandit null", line: `{"p_log":0.5,"r":null,"p_pred":0.25}`},
		{name: "continuous", line: `{"a":1,"pred_a":1,"p_log":0.5}`, continuous: true},
		{name: "slate", line: `{"p_logs":[0.5],"p_preds":[1]}`, slate: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.slate {
				_, err = decodeSlate([]byte(tt.line))
			} else {
				_, err = decodeBandit([]byte(tt.line), tt.continuous)
			}
			assert.ErrorIs(t, err, ErrInvalidRecord)
			assert.ErrorContains(t, err, "missing r")
		})
	}

	rec, err := decodeBandit([]byte(`{"p_log":0.5,"r":0,"p_pred":0.25}`), false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, *rec.Reward)
}
