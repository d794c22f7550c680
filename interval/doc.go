// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

/*Package interval parses genome region strings and implements interval-union
  membership queries over sets of genomic regions, as supplied either on the
  command line or by BED files.
  Overlapping regions are merged, not tracked separately.  Positions fit in a
  PosType.
*/
package interval
