// Package definition loads emulated device descriptions from YAML and writes
// existing devices back out in the same form.
//
// A definition lists the device descriptor fields, its configurations, and
// for each configuration every alternate setting of every interface with its
// endpoints and class-specific descriptors. Descriptor data is written as hex:
//
//	device:
//	  vendor_id: 0xcafe
//	  product_id: 0xbabe
//	  configurations:
//	    - value: 1
//	      interfaces:
//	        - number: 0
//	          class: 0x03
//	          descriptors:
//	            - {type: 0x21, include_in_config: true, data: "09 21 11 01 00 01 22 3f 00"}
//	          endpoints:
//	            - {address: 0x81, type: interrupt, max_packet_size: 8, interval: 10}
package definition
