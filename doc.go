// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package vertipaq reads, read-only, the VertiPaq column-store model
// embedded inside Microsoft Power BI (.pbix) and Excel Power Pivot (.xlsx)
// files, and exposes its schema and row-level table contents as neutral
// column streams. It does not evaluate DAX, honor row-level security, or
// write models back out.
package vertipaq
