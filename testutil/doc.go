// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil holds shared test doubles for the relay core and its
HTTP surface.

# 子包

  - testutil/mocks: MockProvider, a scripted relay/adapter.Provider used
    by relay/router and api/handlers tests to drive deterministic
    success/failure/streaming scenarios without a network call.

# 使用示例

	prov := mocks.NewMockProvider("openai").WithDeltas(
		[]string{"hello"}, adapter.Usage{TotalTokens: 1}, "gpt-4", adapter.FinishStop,
	)
	resp, err := prov.Generate(ctx, req, cred, func(adapter.StreamChunk) {})
*/
package testutil
